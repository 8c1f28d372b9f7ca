// Package kafka provides topic bootstrap and broker readiness-probing for both binaries
package kafka

import (
	"context"
	"errors"
	"log"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// EnsureTopics creates the notification and failure topics, retrying until
// the broker accepts the full set. Existing topics count as created.
func EnsureTopics(ctx context.Context, brokerAddr string, delay time.Duration, topics ...string) {
	client := &kafkago.Client{
		Addr:    kafkago.TCP(brokerAddr),
		Timeout: 10 * time.Second,
	}

	req := kafkago.CreateTopicsRequest{
		Topics: make([]kafkago.TopicConfig, 0, len(topics)),
	}
	for _, t := range topics {
		req.Topics = append(req.Topics, kafkago.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("Topic bootstrap canceled")
			return
		default:
		}

		resp, err := client.CreateTopics(ctx, &req)
		if err != nil {
			log.Printf("Topics creation request failed: %v\nWait %v before next try...", err, delay)
			time.Sleep(delay)
			continue
		}

		ready := 0
		for topic, topicErr := range resp.Errors {
			switch {
			case topicErr == nil, errors.Is(topicErr, kafkago.TopicAlreadyExists):
				ready++
			default:
				log.Printf("Topic %q creation error: %v", topic, topicErr)
			}
		}

		if ready == len(resp.Errors) {
			log.Println("All topics are in place")
			return
		}

		time.Sleep(delay)
	}
}

// WaitReady blocks until the broker accepts TCP connections.
func WaitReady(brokerAddr string, delay time.Duration) {
	for {
		conn, err := kafkago.Dial("tcp", brokerAddr)
		if err == nil {
			if errConn := conn.Close(); errConn != nil {
				log.Println("Failed to close probe connection to Kafka:", errConn)
			}
			break
		}
		log.Printf("Kafka not ready, retrying in %v...", delay)
		time.Sleep(delay)
	}
	log.Println("Kafka is ready!")
}
