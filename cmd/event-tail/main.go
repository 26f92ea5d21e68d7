package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"

	"github.com/IBM/sarama"

	"github.com/photo-hunt/internal/domain"
	"github.com/photo-hunt/internal/kafka"
)

// filter selects which events are printed. Empty fields match everything.
type filter struct {
	names  []string
	teamID string
}

func (f filter) match(e domain.Event) bool {
	if len(f.names) > 0 && !slices.Contains(f.names, e.Name) {
		return false
	}
	return f.teamID == "" || e.TeamID == f.teamID
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "photohunt-events", "Kafka topic")
	events := flag.String("events", "", "Only print these event names (comma-separated), e.g. game:winner,level:unlocked")
	team := flag.String("team", "", "Only print events for this team ID")
	flag.Parse()

	f := filter{names: splitList(*events), teamID: *team}

	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true

	consumer, err := sarama.NewConsumer(splitList(*brokers), config)
	if err != nil {
		log.Fatalf("Failed to create consumer: %v", err)
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(*topic)
	if err != nil {
		log.Fatalf("Failed to list partitions: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	var (
		mu  sync.Mutex
		enc = json.NewEncoder(os.Stdout)
		wg  sync.WaitGroup
	)

	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(*topic, partition, sarama.OffsetNewest)
		if err != nil {
			log.Fatalf("Failed to consume partition %d: %v", partition, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pc.Close()
			for {
				select {
				case <-done:
					return
				case err, ok := <-pc.Errors():
					if !ok {
						return
					}
					log.Printf("partition %d: %v", err.Partition, err.Err)
				case msg, ok := <-pc.Messages():
					if !ok {
						return
					}
					envelope, err := kafka.DecodeEnvelope(msg.Value)
					if err != nil {
						log.Printf("skipping offset %d: %v", msg.Offset, err)
						continue
					}
					if !f.match(envelope.Event) {
						continue
					}
					mu.Lock()
					enc.Encode(envelope)
					mu.Unlock()
				}
			}
		}()
	}

	fmt.Fprintf(os.Stderr, "tailing %s on %d partitions\n", *topic, len(partitions))
	<-sigCh
	close(done)
	wg.Wait()
}
