// auctionsim is a local stand-in for the production auction backend: it
// serves the car REST endpoints and a /socket channel that speaks the
// same pushed-event protocol, so the client can be exercised end to end
// on a laptop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"bidsession/internal/domain"
	"bidsession/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/robfig/cron/v3"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type simCar struct {
	car       domain.Car
	bidAmount *float64
	bidders   []string
	sold      bool
}

type simulator struct {
	log logger.Logger

	mutex   sync.Mutex
	cars    map[string]*simCar
	order   []string
	current int
	color   domain.PriceColor
	conns   map[*websocket.Conn]string // conn -> user id (the token, in the sim)
}

func newSimulator(log logger.Logger) *simulator {
	sim := &simulator{
		log:   log,
		cars:  make(map[string]*simCar),
		color: domain.ColorGreen,
		conns: make(map[*websocket.Conn]string),
	}
	for i := 0; i < 5; i++ {
		car := domain.Car{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("Lot %d", i+1),
			StartingBid: float64(1000 * (i + 1)),
			BidMargin:   100,
			FixedPrice:  float64(2000 * (i + 1)),
		}
		sim.cars[car.ID] = &simCar{car: car}
		sim.order = append(sim.order, car.ID)
	}
	return sim
}

func (s *simulator) currentCar() *simCar {
	return s.cars[s.order[s.current]]
}

func (s *simulator) getCar(c echo.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	car, exists := s.cars[c.Param("id")]
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "car not found")
	}

	details := domain.CarDetails{Car: car.car}
	if car.bidAmount != nil {
		details.CurrentBid = &domain.CurrentBidRecord{
			BidAmount:       *car.bidAmount,
			PreviousBidders: car.bidders,
		}
	}
	return c.JSON(http.StatusOK, details)
}

func (s *simulator) purchase(c echo.Context) error {
	if c.Request().Header.Get("Authorization") == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "token required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	car, exists := s.cars[c.Param("id")]
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "car not found")
	}
	if car.sold {
		return echo.NewHTTPError(http.StatusConflict, "already sold")
	}
	car.sold = true
	return c.JSON(http.StatusOK, map[string]string{"status": "purchased"})
}

func (s *simulator) socket(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "token required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.conns[conn] = token
	s.mutex.Unlock()
	s.log.Info("Bidder connected", "user_id", token)

	go s.readLoop(conn, token)
	return nil
}

func (s *simulator) readLoop(conn *websocket.Conn, userID string) {
	defer func() {
		s.mutex.Lock()
		delete(s.conns, conn)
		s.mutex.Unlock()
		conn.Close()
		s.log.Info("Bidder disconnected", "user_id", userID)
	}()

	for {
		var envelope domain.Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}
		if envelope.Event != domain.EmitPlaceBid {
			continue
		}

		var request domain.PlaceBidRequest
		if err := json.Unmarshal(envelope.Data, &request); err != nil {
			s.log.Warn("Bad placeBid payload", "error", err)
			continue
		}
		s.handleBid(conn, userID, request)
	}
}

func (s *simulator) handleBid(conn *websocket.Conn, userID string, request domain.PlaceBidRequest) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	car, exists := s.cars[request.CarID]
	if !exists || car.sold {
		s.sendLocked(conn, domain.EventBidPlaced, domain.EventPayload{
			IsOk: false, User: userID, Message: "Bidding is closed for this car",
		})
		return
	}

	minimum := car.car.StartingBid
	if car.bidAmount != nil {
		minimum = *car.bidAmount
	}
	if request.BidAmount <= minimum {
		s.sendLocked(conn, domain.EventBidPlaced, domain.EventPayload{
			IsOk:    false,
			User:    userID,
			CarID:   car.car.ID,
			Message: fmt.Sprintf("Your bid must be higher than %.0f", minimum),
		})
		return
	}

	amount := request.BidAmount
	car.bidAmount = &amount
	car.bidders = append(car.bidders, userID)

	outBid := ""
	if len(car.bidders) > 1 {
		outBid = "You have been outbid"
	}
	open := true
	s.broadcastLocked(domain.EventBidPlaced, domain.EventPayload{
		IsOk:            true,
		ID:              userID,
		CarID:           car.car.ID,
		BidAmount:       &amount,
		AuctionStatus:   &open,
		PreviousBidders: car.bidders,
		Message:         fmt.Sprintf("Bid of %.0f accepted", amount),
		OutBidMessage:   outBid,
	})
}

// rotate closes the current car's auction and opens the next one.
func (s *simulator) rotate() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	car := s.currentCar()
	winner := ""
	if len(car.bidders) > 0 {
		winner = car.bidders[len(car.bidders)-1]
	}

	s.current = (s.current + 1) % len(s.order)
	next := s.currentCar()

	closed := false
	s.broadcastLocked(domain.EventAuctionStatusChanged, domain.EventPayload{
		IsOk:          true,
		UserID:        winner,
		CarID:         car.car.ID,
		AuctionStatus: &closed,
		Message:       "Auction ended",
		WinnerMessage: "Congratulations, you won the auction!",
		NextCar:       &domain.NextCarRef{ID: next.car.ID},
	})

	open := true
	s.broadcastLocked(domain.EventAuctionOpened, domain.EventPayload{
		IsOk:          true,
		CarID:         next.car.ID,
		AuctionStatus: &open,
		Message:       fmt.Sprintf("Bidding open for %s", next.car.Name),
	})
}

func (s *simulator) toggleColor() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.color == domain.ColorGreen {
		s.color = domain.ColorRed
	} else {
		s.color = domain.ColorGreen
	}
	s.broadcastLocked(domain.EventColorChanged, domain.EventPayload{
		IsOk:    true,
		CarID:   s.currentCar().car.ID,
		Color:   s.color,
		Message: "Price indicator updated",
	})
}

func (s *simulator) sendLocked(conn *websocket.Conn, event string, payload domain.EventPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to encode event", "event", event, "error", err)
		return
	}
	if err := conn.WriteJSON(domain.Envelope{Event: event, Data: data}); err != nil {
		s.log.Warn("Failed to send event", "event", event, "error", err)
	}
}

func (s *simulator) broadcastLocked(event string, payload domain.EventPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("Failed to encode event", "event", event, "error", err)
		return
	}
	for conn := range s.conns {
		if err := conn.WriteJSON(domain.Envelope{Event: event, Data: data}); err != nil {
			s.log.Warn("Failed to broadcast", "event", event, "error", err)
		}
	}
}

func main() {
	log := logger.New()
	sim := newSimulator(log)

	e := echo.New()
	e.HideBanner = true
	e.GET("/car/:id", sim.getCar)
	e.PUT("/car/purchase/:id", sim.purchase)
	e.GET("/socket", sim.socket)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every 90s", sim.rotate); err != nil {
		log.Error("Failed to schedule auction rotation", "error", err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 25s", sim.toggleColor); err != nil {
		log.Error("Failed to schedule color toggle", "error", err)
		os.Exit(1)
	}
	scheduler.Start()

	go func() {
		log.Info("auctionsim listening", "address", ":8080",
			"first_car", sim.order[0])
		if err := e.Start(":8080"); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("auctionsim stopped")
}
