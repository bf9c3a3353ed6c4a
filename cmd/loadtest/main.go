package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"planning-poker-backend/cache"
	"planning-poker-backend/config"
	"planning-poker-backend/model"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 建议牌面
var deck = []string{"0", "1", "2", "3", "5", "8", "13", "21", "∞", "?"}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) call(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e model.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// 完整走一轮：建会话、加入、连WebSocket、出牌、翻牌、取结果、结束
func testRound(log *zap.SugaredLogger, c *client, participants int) error {
	log.Infof("=== round with %d participants ===", participants)

	var session model.Session
	if err := c.call(http.MethodPost, "/api/sessions", map[string]string{"name": "Load test", "hostName": "Host"}, &session); err != nil {
		return err
	}
	log.Infof("session created, pin=%s", session.PIN)

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	ended := make(chan struct{}, participants)
	var received atomic.Int64
	var wg sync.WaitGroup
	ids := make([]uint, 0, participants)

	for i := 0; i < participants; i++ {
		var p model.Participant
		name := fmt.Sprintf("Player %d", i+1)
		if err := c.call(http.MethodPost, "/api/sessions/"+session.PIN+"/participants", map[string]string{"name": name}, &p); err != nil {
			return err
		}
		ids = append(ids, p.ID)

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", wsURL, err)
		}
		defer conn.Close()

		join := map[string]interface{}{"type": "JoinGroup", "pin": session.PIN, "participantId": p.ID, "name": name}
		if err := conn.WriteJSON(join); err != nil {
			return err
		}
		var reply model.Message
		if err := conn.ReadJSON(&reply); err != nil {
			return err
		}
		if reply.Type != "JoinedGroup" {
			return fmt.Errorf("participant %d: unexpected reply %s", p.ID, reply.Type)
		}

		wg.Add(1)
		go func(conn *websocket.Conn) {
			defer wg.Done()
			for {
				var msg model.Message
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				received.Add(1)
				if msg.Type == model.EventSessionEnded {
					ended <- struct{}{}
					return
				}
			}
		}(conn)
	}

	start := time.Now()
	for _, id := range ids {
		card := deck[rand.IntN(len(deck))]
		if err := c.call(http.MethodPost, "/api/sessions/"+session.PIN+"/votes",
			map[string]interface{}{"participantId": id, "cardValue": card}, nil); err != nil {
			return err
		}
	}
	log.Infof("%d votes submitted in %s", len(ids), time.Since(start))

	if err := c.call(http.MethodPost, "/api/sessions/"+session.PIN+"/reveal", nil, nil); err != nil {
		return err
	}
	var results model.Results
	if err := c.call(http.MethodGet, "/api/sessions/"+session.PIN+"/results", nil, &results); err != nil {
		return err
	}
	log.Infof("results: %d votes", len(results.Votes))
	if results.Statistics != nil {
		log.Infof("average=%.2f min=%d max=%d", results.Statistics.Average, results.Statistics.Min, results.Statistics.Max)
	}

	if err := c.call(http.MethodDelete, "/api/sessions/"+session.PIN, nil, nil); err != nil {
		return err
	}

	timeout := time.After(5 * time.Second)
	for i := 0; i < participants; i++ {
		select {
		case <-ended:
		case <-timeout:
			return fmt.Errorf("only %d of %d connections saw SessionEnded", i, participants)
		}
	}
	wg.Wait()
	log.Infof("all connections saw SessionEnded, %d events received", received.Load())
	return nil
}

// 多个goroutine争抢同一会话锁，临界区不应重叠
func testDistributedLock(log *zap.SugaredLogger, cfg config.Config, workers int) error {
	log.Infof("=== distributed lock with %d workers ===", workers)

	ctx := context.Background()
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis, log.Desugar())
	if err != nil {
		return err
	}
	defer redisClient.Close()

	locks := cache.NewDistributedLockService(redisClient, log.Desugar())

	var (
		wg       sync.WaitGroup
		inside   atomic.Int32
		overlaps atomic.Int32
		acquired atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "000000")
			if err != nil {
				log.Warnf("worker %d: %v", idx+1, err)
				return
			}
			defer unlock()

			if inside.Add(1) > 1 {
				overlaps.Add(1)
			}
			acquired.Add(1)
			time.Sleep(20 * time.Millisecond)
			inside.Add(-1)
		}(i)
	}
	wg.Wait()

	log.Infof("lock acquired %d times, overlaps=%d", acquired.Load(), overlaps.Load())
	if overlaps.Load() > 0 {
		return fmt.Errorf("critical sections overlapped %d times", overlaps.Load())
	}
	return nil
}

func main() {
	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	baseURL := os.Getenv("LOADTEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + cfg.Port
	}
	participants := 5
	if v, err := strconv.Atoi(os.Getenv("LOADTEST_PARTICIPANTS")); err == nil && v > 0 {
		participants = v
	}
	c := &client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	// 如果有参数，选择性测试
	tests := os.Args[1:]
	if len(tests) == 0 {
		tests = []string{"round"}
	}
	for _, name := range tests {
		var err error
		switch name {
		case "round":
			err = testRound(log, c, participants)
		case "lock":
			err = testDistributedLock(log, cfg, 10)
		default:
			log.Warnf("unknown test: %s", name)
			continue
		}
		if err != nil {
			log.Fatalf("%s failed: %v", name, err)
		}
	}
	log.Info("all tests passed")
}
