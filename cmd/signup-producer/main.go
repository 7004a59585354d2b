// signup-producer drives synthetic registration traffic against a running
// server. It creates a pool of players, then fires signup and cancellation
// requests at a fixed rate so waitlist behavior can be observed under load.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

var playerPrefixes = []string{
	"Alex", "Sam", "Jordan", "Casey", "Riley", "Morgan", "Taylor", "Quinn", "Avery", "Rowan",
	"Jamie", "Drew", "Reese", "Skyler", "Emerson", "Finley", "Harper", "Kendall", "Logan", "Parker",
}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s %d", playerPrefixes[prefixIdx], suffix)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of the server")
	sessionID := flag.String("session", "", "Session ID to register against (created if empty)")
	totalPlayers := flag.Int("players", 50, "Number of players to create")
	requestsPerSecond := flag.Int("rate", 10, "Signup requests per second")
	cancelPercent := flag.Int("cancel", 20, "Percent of requests that cancel an existing registration")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Println("signup-producer")
	fmt.Printf("  URL:         %s\n", *baseURL)
	fmt.Printf("  Players:     %d\n", *totalPlayers)
	fmt.Printf("  Rate:        %d req/s\n", *requestsPerSecond)
	fmt.Printf("  Cancel:      %d%%\n", *cancelPercent)
	fmt.Println()

	// Create a target session when none was given
	target := *sessionID
	if target == "" {
		sess, err := createSession(client, *baseURL)
		if err != nil {
			log.Fatalf("Failed to create session: %v", err)
		}
		target = sess
		fmt.Printf("Created session %s\n", target)
	}

	// Create the player pool
	fmt.Printf("Creating %d players...\n", *totalPlayers)
	playerIDs := make([]string, 0, *totalPlayers)
	for i := 0; i < *totalPlayers; i++ {
		id, err := createPlayer(client, *baseURL, playerName(i))
		if err != nil {
			log.Fatalf("Failed to create player: %v", err)
		}
		playerIDs = append(playerIDs, id)
	}
	fmt.Printf("Created %d players\n\n", len(playerIDs))

	// registrationIDs tracks active registrations by player index; empty
	// string means the player is not registered
	registrationIDs := make([]string, len(playerIDs))

	var signupCount, cancelCount, rejectCount, errorCount int64

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	interval := time.Second / time.Duration(*requestsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	printStats := func() {
		fmt.Printf("\nDone. Signups: %d | Cancels: %d | Rejected: %d | Errors: %d\n",
			atomic.LoadInt64(&signupCount),
			atomic.LoadInt64(&cancelCount),
			atomic.LoadInt64(&rejectCount),
			atomic.LoadInt64(&errorCount),
		)
	}

	for {
		select {
		case <-sigChan:
			printStats()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				printStats()
				return
			}

			idx := rand.Intn(len(playerIDs))
			if registrationIDs[idx] != "" && rand.Intn(100) < *cancelPercent {
				if err := cancelRegistration(client, *baseURL, registrationIDs[idx]); err != nil {
					atomic.AddInt64(&errorCount, 1)
				} else {
					registrationIDs[idx] = ""
					atomic.AddInt64(&cancelCount, 1)
				}
				continue
			}

			regID, err := signup(client, *baseURL, target, playerIDs[idx])
			switch {
			case err != nil:
				atomic.AddInt64(&errorCount, 1)
			case regID == "":
				// Duplicate registration, expected under random traffic
				atomic.AddInt64(&rejectCount, 1)
			default:
				registrationIDs[idx] = regID
				atomic.AddInt64(&signupCount, 1)
			}

		case <-statsTicker.C:
			fmt.Printf("[%s] Signups: %d | Cancels: %d | Rejected: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&signupCount),
				atomic.LoadInt64(&cancelCount),
				atomic.LoadInt64(&rejectCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}

func postJSON(client *http.Client, url string, payload any) (*apiResponse, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}

	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, resp.StatusCode, err
	}
	return &apiResp, resp.StatusCode, nil
}

func createSession(client *http.Client, baseURL string) (string, error) {
	starts := time.Now().Add(48 * time.Hour)
	resp, status, err := postJSON(client, baseURL+"/api/v1/sessions/", map[string]any{
		"title":            "Load test session",
		"starts_at":        starts,
		"ends_at":          starts.Add(2 * time.Hour),
		"fields_available": 1,
		"constraint_rule":  "max_18,min_12,even",
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", status, resp.Error)
	}

	var sess struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &sess); err != nil {
		return "", err
	}
	return sess.ID, nil
}

func createPlayer(client *http.Client, baseURL, name string) (string, error) {
	resp, status, err := postJSON(client, baseURL+"/api/v1/players/", map[string]any{
		"name": name,
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", status, resp.Error)
	}

	var player struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Data, &player); err != nil {
		return "", err
	}
	return player.ID, nil
}

// signup returns the new registration ID, or empty when the request was
// rejected as a duplicate or conflict
func signup(client *http.Client, baseURL, sessionID, playerID string) (string, error) {
	resp, status, err := postJSON(client, baseURL+"/api/v1/signup", map[string]any{
		"session_id": sessionID,
		"player_id":  playerID,
	})
	if err != nil {
		return "", err
	}
	if status == http.StatusConflict {
		return "", nil
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d: %s", status, resp.Error)
	}

	var result struct {
		Registration struct {
			ID string `json:"id"`
		} `json:"registration"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return "", err
	}
	return result.Registration.ID, nil
}

func cancelRegistration(client *http.Client, baseURL, registrationID string) error {
	resp, status, err := postJSON(client, baseURL+"/api/v1/registrations/"+registrationID+"/cancel", struct{}{})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", status, resp.Error)
	}
	return nil
}
