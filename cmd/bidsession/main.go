package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bidsession/internal/config"
	"bidsession/internal/domain"
	"bidsession/internal/infrastructure/storage"
	"bidsession/internal/infrastructure/websocket"
	"bidsession/internal/services"
	"bidsession/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
)

// terminalNotifier renders toasts on stdout; the bell is the sound cue.
type terminalNotifier struct{}

func (terminalNotifier) Success(message string) { fmt.Printf("\n[OK] %s\n> ", message) }
func (terminalNotifier) Error(message string)   { fmt.Printf("\n[!] %s\n> ", message) }
func (terminalNotifier) BidSound()              { fmt.Print("\a") }

// terminalNavigator swaps the viewed car when the auction moves on.
type terminalNavigator struct {
	next chan string // empty string means back to the listing
}

func (n *terminalNavigator) GoToCar(carID string) { n.next <- carID }
func (n *terminalNavigator) GoToListing()         { n.next <- "" }

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var persist domain.SnapshotStore
	switch cfg.Storage.Backend {
	case "redis":
		rdb := redisClient.NewClient(&redisClient.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		persist = storage.NewRedisStore(rdb, os.Getenv("BID_USER"))
	default:
		fileStore, err := storage.NewFileStore(cfg.Storage.Path)
		if err != nil {
			log.Error("Failed to open cache file", "error", err)
			os.Exit(1)
		}
		persist = fileStore
	}

	carID := os.Getenv("BID_CAR")
	if len(os.Args) > 1 {
		carID = os.Args[1]
	}
	if carID == "" {
		fmt.Println("usage: bidsession <carID>")
		os.Exit(2)
	}

	token := readString(ctx, persist, storage.KeyToken)
	if env := os.Getenv("BID_TOKEN"); env != "" {
		token = env
		saveString(ctx, persist, storage.KeyToken, token)
	}

	clock := clockwork.NewRealClock()
	navigator := &terminalNavigator{next: make(chan string, 1)}
	notifier := terminalNotifier{}

	store := services.NewBidStore(persist, navigator, clock, log)
	store.Hydrate(ctx, carID)
	if env := os.Getenv("BID_USER"); env != "" {
		store.SetUserID(env)
	}

	dispatcher := services.NewDispatcher(store, notifier, log)
	client := websocket.NewClient(websocket.Config{
		URL:               cfg.Socket.URL,
		ReconnectAttempts: cfg.Socket.ReconnectAttempts,
		ReconnectDelay:    cfg.Socket.ReconnectDelay,
		HandshakeTimeout:  cfg.Socket.HandshakeTimeout,
	}, dispatcher, clock, log)
	controller := services.NewBidController(client, store, notifier, log)

	// Re-render on every reconciled snapshot.
	store.Subscribe(func(snapshot domain.BidSnapshot) {
		render(store, snapshot.CarID)
	})

	if details := fetchCar(cfg.Backend.BaseURL, carID, log); details != nil {
		store.ApplyRestSnapshot(details)
	}

	if err := client.Connect(token); err != nil {
		log.Warn("Initial connect failed, retrying in background", "error", err)
	}
	defer client.Disconnect()

	candidate := store.EffectiveBid(carID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	render(store, carID)
	fmt.Print("> ")

	for {
		select {
		case <-quit:
			fmt.Println("\nLeaving auction")
			return

		case next := <-navigator.next:
			if next == "" {
				fmt.Println("\nAuction over, back to listing")
				return
			}
			carID = next
			store.Hydrate(context.Background(), carID)
			if details := fetchCar(cfg.Backend.BaseURL, carID, log); details != nil {
				store.ApplyRestSnapshot(details)
			}
			candidate = store.EffectiveBid(carID)
			fmt.Printf("\nMoved to next car %s\n> ", carID)

		case line, ok := <-lines:
			if !ok {
				return
			}
			switch fields := strings.Fields(line); {
			case len(fields) == 0:
			case fields[0] == "quit":
				return
			case fields[0] == "+":
				candidate = controller.Increment(carID, candidate)
				fmt.Printf("candidate bid: %.0f\n", candidate)
			case fields[0] == "-":
				candidate = controller.Decrement(carID, candidate)
				fmt.Printf("candidate bid: %.0f\n", candidate)
			case fields[0] == "bid":
				amount := candidate
				if len(fields) > 1 {
					parsed, err := strconv.ParseFloat(fields[1], 64)
					if err != nil {
						fmt.Println("invalid amount")
						break
					}
					amount = parsed
				}
				if err := controller.PlaceBid(carID, amount, token); err != nil {
					log.Debug("Bid rejected", "error", err)
				}
			case fields[0] == "buy":
				purchase(cfg.Backend.BaseURL, carID, token, log)
			default:
				fmt.Println("commands: bid [amount], +, -, buy, quit")
			}
			fmt.Print("> ")
		}
	}
}

func render(store *services.BidStore, carID string) {
	line := fmt.Sprintf("car %s | current bid %.0f", carID, store.EffectiveBid(carID))
	if color, ok := store.Color(); ok && color.CarID == carID {
		line += " | price " + string(color.Color)
	}
	fmt.Printf("\n%s\n", line)
}

func fetchCar(baseURL, carID string, log logger.Logger) *domain.CarDetails {
	resp, err := http.Get(fmt.Sprintf("%s/car/%s", baseURL, carID))
	if err != nil {
		log.Warn("Failed to fetch car details", "car_id", carID, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("Car details request rejected", "car_id", carID, "status", resp.StatusCode)
		return nil
	}
	var details domain.CarDetails
	if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
		log.Warn("Failed to decode car details", "car_id", carID, "error", err)
		return nil
	}
	return &details
}

// purchase is the fixed-price path; it bypasses the bidding core.
func purchase(baseURL, carID, token string, log logger.Logger) {
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/car/purchase/%s", baseURL, carID), nil)
	if err != nil {
		log.Error("Failed to build purchase request", "error", err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Warn("Purchase request failed", "car_id", carID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("purchase confirmed")
	} else {
		fmt.Printf("purchase rejected (status %d)\n", resp.StatusCode)
	}
}

func readString(ctx context.Context, persist domain.SnapshotStore, key string) string {
	raw, err := persist.Get(ctx, key)
	if err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return string(raw)
	}
	return value
}

func saveString(ctx context.Context, persist domain.SnapshotStore, key, value string) {
	raw, _ := json.Marshal(value)
	_ = persist.Set(ctx, key, raw)
}
