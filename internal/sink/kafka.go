// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sink holds the secondary outputs of the streamer: broker mirrors
// of the publish stream and a serial port for correction data.
package sink

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
)

// ErrMirrorFull is returned when a mirror's outbound buffer is full and the
// line was dropped.
var ErrMirrorFull = errors.New("sink: mirror buffer full")

// KafkaMirror copies published lines to a Kafka topic. Sends are
// asynchronous; a full producer buffer drops the line instead of blocking.
type KafkaMirror struct {
	topic string
	p     sarama.AsyncProducer

	dropped atomic.Uint64
	failed  atomic.Uint64
	wg      sync.WaitGroup
}

// NewKafkaConfig returns the producer settings used by the mirror. Records
// are position telemetry, so latency wins over delivery guarantees.
func NewKafkaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = "gnss_streamer"
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 2
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Flush.Frequency = 50 * time.Millisecond
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.ChannelBufferSize = 1024
	return cfg
}

func NewKafkaMirror(brokers []string, topic string) (*KafkaMirror, error) {
	p, err := sarama.NewAsyncProducer(brokers, NewKafkaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return newKafkaMirror(p, topic), nil
}

func newKafkaMirror(p sarama.AsyncProducer, topic string) *KafkaMirror {
	m := &KafkaMirror{topic: topic, p: p}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for err := range p.Errors() {
			if m.failed.Add(1)%100 == 1 {
				log.Printf("kafka mirror: %v", err.Err)
			}
		}
	}()
	return m
}

func (m *KafkaMirror) Name() string { return "kafka" }

// Publish queues one line for the topic.
func (m *KafkaMirror) Publish(line []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: m.topic,
		Value: sarama.ByteEncoder(bytes.TrimRight(line, "\n")),
	}
	select {
	case m.p.Input() <- msg:
		return nil
	default:
		m.dropped.Add(1)
		return ErrMirrorFull
	}
}

// Dropped is the number of lines discarded because the buffer was full.
func (m *KafkaMirror) Dropped() uint64 { return m.dropped.Load() }

// Failed is the number of lines the producer reported as undeliverable.
func (m *KafkaMirror) Failed() uint64 { return m.failed.Load() }

// Close flushes pending messages and stops the producer.
func (m *KafkaMirror) Close() error {
	err := m.p.Close()
	m.wg.Wait()
	return err
}
