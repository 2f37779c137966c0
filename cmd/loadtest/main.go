// Load tool for exercising Courtkeeper's booking evaluation endpoint.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -facility fac-001 -users user-001,user-002 -courts court-001
//	go run ./cmd/loadtest -csv requests.csv
//
// Requests are either generated from the flags or read from a CSV file with
// the header userId,facilityId,courtId,bookingDate,startTime,endTime,bookingType.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BookingRequest is the body of POST /bookings/evaluate.
type BookingRequest struct {
	UserID      string `json:"userId"`
	FacilityID  string `json:"facilityId"`
	CourtID     string `json:"courtId"`
	BookingDate string `json:"bookingDate"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	BookingType string `json:"bookingType"`
}

// RuleResult is the part of a rule verdict the report uses.
type RuleResult struct {
	RuleCode string `json:"ruleCode"`
}

// EvaluateResponse is the part of the evaluation response the report uses.
type EvaluateResponse struct {
	EvaluationID string       `json:"evaluationId"`
	Allowed      bool         `json:"allowed"`
	Blockers     []RuleResult `json:"blockers"`
	Warnings     []RuleResult `json:"warnings"`
}

// Metrics tracks load run results.
type Metrics struct {
	TotalProcessed int64
	TotalAllowed   int64
	TotalBlocked   int64
	TotalWarned    int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
	blockedBy map[string]int
}

func (m *Metrics) record(latency time.Duration, res *EvaluateResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, latency)
	if res == nil {
		return
	}
	for _, b := range res.Blockers {
		m.blockedBy[b.RuleCode]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Courtkeeper base URL")
	csvPath := flag.String("csv", "", "Optional CSV file of booking requests")
	facilityID := flag.String("facility", "fac-001", "Facility ID for generated requests")
	users := flag.String("users", "user-001", "Comma-separated user IDs for generated requests")
	courts := flag.String("courts", "court-001", "Comma-separated court IDs for generated requests")
	types := flag.String("types", "singles,doubles", "Comma-separated booking types for generated requests")
	requests := flag.Int("requests", 1000, "Number of generated requests")
	daysAhead := flag.Int("days", 7, "Spread generated bookings over this many days from today")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Uint64("seed", 1, "Random seed for generated requests")
	verbose := flag.Bool("verbose", false, "Print each evaluation result")
	flag.Parse()

	fmt.Println("Courtkeeper load test")
	fmt.Printf("\nURL:      %s\n", *baseURL)
	fmt.Printf("Workers:  %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Courtkeeper not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Courtkeeper is running:")
		fmt.Println("  go run ./cmd/courtkeeper")
		os.Exit(1)
	}
	fmt.Println("Courtkeeper is healthy")

	var reqs []BookingRequest
	var err error
	if *csvPath != "" {
		reqs, err = readRequestsCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		reqs = generateRequests(generator{
			facilityID: *facilityID,
			users:      splitList(*users),
			courts:     splitList(*courts),
			types:      splitList(*types),
			days:       *daysAhead,
			rng:        rand.New(rand.NewPCG(*seed, *seed)),
			today:      time.Now(),
		}, *requests)
	}
	fmt.Printf("Loaded %d booking requests\n", len(reqs))

	fmt.Printf("\nRunning with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := run(reqs, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
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

type generator struct {
	facilityID string
	users      []string
	courts     []string
	types      []string
	days       int
	rng        *rand.Rand
	today      time.Time
}

// generateRequests produces bookings of 30 to 120 minutes on half-hour slots
// between 06:00 and 22:00.
func generateRequests(g generator, n int) []BookingRequest {
	if len(g.users) == 0 || len(g.courts) == 0 || len(g.types) == 0 {
		return nil
	}
	if g.days <= 0 {
		g.days = 1
	}

	out := make([]BookingRequest, 0, n)
	for i := 0; i < n; i++ {
		day := g.today.AddDate(0, 0, g.rng.IntN(g.days))
		slots := 1 + g.rng.IntN(4)
		start := 12 + g.rng.IntN(32-slots+1)
		end := start + slots

		out = append(out, BookingRequest{
			UserID:      g.users[g.rng.IntN(len(g.users))],
			FacilityID:  g.facilityID,
			CourtID:     g.courts[g.rng.IntN(len(g.courts))],
			BookingDate: day.Format("2006-01-02"),
			StartTime:   slotClock(start),
			EndTime:     slotClock(end),
			BookingType: g.types[g.rng.IntN(len(g.types))],
		})
	}
	return out
}

// slotClock renders the n-th half-hour slot of the day as HH:MM.
func slotClock(n int) string {
	return fmt.Sprintf("%02d:%02d", n/2, (n%2)*30)
}

func readRequestsCSV(path string) ([]BookingRequest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"userid", "facilityid", "courtid", "bookingdate", "starttime", "endtime", "bookingtype"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %s", col)
		}
	}

	var reqs []BookingRequest
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		reqs = append(reqs, BookingRequest{
			UserID:      record[colIndex["userid"]],
			FacilityID:  record[colIndex["facilityid"]],
			CourtID:     record[colIndex["courtid"]],
			BookingDate: record[colIndex["bookingdate"]],
			StartTime:   record[colIndex["starttime"]],
			EndTime:     record[colIndex["endtime"]],
			BookingType: record[colIndex["bookingtype"]],
		})
	}

	return reqs, nil
}

func run(reqs []BookingRequest, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{blockedBy: make(map[string]int)}

	work := make(chan BookingRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for req := range work {
				start := time.Now()
				result, err := evaluateBooking(client, baseURL, req)
				metrics.record(time.Since(start), result)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s %s %s -> %v\n", req.UserID, req.BookingDate, req.StartTime, err)
					}
					continue
				}

				if result.Allowed {
					atomic.AddInt64(&metrics.TotalAllowed, 1)
				} else {
					atomic.AddInt64(&metrics.TotalBlocked, 1)
				}
				if len(result.Warnings) > 0 {
					atomic.AddInt64(&metrics.TotalWarned, 1)
				}

				if verbose {
					status := "allowed"
					if !result.Allowed {
						status = "blocked"
					}
					fmt.Printf("%-8s %-10s | %s %s-%s | %-8s | %d blockers, %d warnings\n",
						status,
						req.UserID,
						req.BookingDate,
						req.StartTime,
						req.EndTime,
						req.CourtID,
						len(result.Blockers),
						len(result.Warnings),
					)
				}
			}
		}()
	}

	for _, req := range reqs {
		work <- req
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateBooking(client *http.Client, baseURL string, req BookingRequest) (*EvaluateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/bookings/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// percentile returns the p-th percentile of sorted latencies using nearest rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(p/100*float64(len(sorted)) + 0.5)
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")

	fmt.Printf("\n   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Allowed:          %d\n", m.TotalAllowed)
	fmt.Printf("   Blocked:          %d\n", m.TotalBlocked)
	fmt.Printf("   With Warnings:    %d\n", m.TotalWarned)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	if len(m.blockedBy) > 0 {
		codes := make([]string, 0, len(m.blockedBy))
		for code := range m.blockedBy {
			codes = append(codes, code)
		}
		slices.Sort(codes)

		fmt.Printf("\n   Blockers by rule:\n")
		for _, code := range codes {
			fmt.Printf("     %-8s %d\n", code, m.blockedBy[code])
		}
	}

	latencies := slices.Clone(m.latencies)
	slices.Sort(latencies)

	fmt.Printf("\n   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
		fmt.Printf("   Latency p50:      %v\n", percentile(latencies, 50).Round(time.Microsecond))
		fmt.Printf("   Latency p95:      %v\n", percentile(latencies, 95).Round(time.Microsecond))
		fmt.Printf("   Latency p99:      %v\n", percentile(latencies, 99).Round(time.Microsecond))
	}

	fmt.Println()
}
