package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/V4T54L/postbus/internal/pkg/auth"
)

var (
	templates = []string{"goal", "result", "lineup", "kickoff"}
	channels  = []string{`"yt"`, `"fb"`, `"ig"`, `"tiktok"`, `"x"`}
)

func main() {
	targetURL := flag.String("url", "http://localhost:8080/post", "Target URL for post admission")
	secret := flag.String("jwt-secret", "supersecretkey", "JWT secret used to sign the bearer token")
	tenant := flag.String("tenant", "club-load", "Tenant the posts are admitted for")
	concurrency := flag.Int("c", 10, "Number of concurrent workers")
	duration := flag.Duration("d", 30*time.Second, "Duration of the load test")
	rps := flag.Int("rps", 200, "Requests per second limit")
	replayRatio := flag.Float64("replay", 0.1, "Fraction of requests that reuse an earlier Idempotency-Key")
	flag.Parse()

	token, err := auth.GenerateToken("load-tester", *tenant, "", *secret, *duration+time.Minute)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	log.Printf("Starting load test on %s", *targetURL)
	log.Printf("Concurrency: %d, Duration: %s, RPS: %d, Replay: %.2f", *concurrency, *duration, *rps, *replayRatio)

	var wg sync.WaitGroup
	var acceptedCount, duplicateCount, errorCount atomic.Int64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(*rps), 50)

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			client := &http.Client{
				Timeout: 5 * time.Second,
			}
			var lastKey string

			for {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				key := uuid.NewString()
				if lastKey != "" && rand.Float64() < *replayRatio {
					key = lastKey
				}
				lastKey = key

				payload := fmt.Sprintf(`{"tenant":%q,"template":%q,"channels":[%s],"data":{"worker":%d,"key":%q}}`,
					*tenant, templates[rand.IntN(len(templates))], channels[rand.IntN(len(channels))], workerID, key)

				req, err := http.NewRequestWithContext(ctx, http.MethodPost, *targetURL, bytes.NewBufferString(payload))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("Authorization", "Bearer "+token)
				req.Header.Set("Idempotency-Key", key)

				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errorCount.Add(1)
					continue
				}

				switch resp.StatusCode {
				case http.StatusAccepted:
					acceptedCount.Add(1)
				case http.StatusOK:
					duplicateCount.Add(1)
				default:
					errorCount.Add(1)
				}
				resp.Body.Close()
			}
		}(i)
	}

	wg.Wait()

	totalRequests := acceptedCount.Load() + duplicateCount.Load() + errorCount.Load()
	actualRPS := float64(totalRequests) / duration.Seconds()

	log.Println("Load test finished.")
	log.Printf("Total Requests: %d", totalRequests)
	log.Printf("Accepted (202): %d", acceptedCount.Load())
	log.Printf("Duplicates (200): %d", duplicateCount.Load())
	log.Printf("Errors: %d", errorCount.Load())
	log.Printf("Actual RPS: %.2f", actualRPS)
}
