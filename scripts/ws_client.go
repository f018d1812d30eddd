// Package main runs a demo WebSocket client: it generates an instance and
// streams an optimization of it over /ws/optimize.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	customers := 25
	if v, err := strconv.Atoi(os.Getenv("CUSTOMERS")); err == nil && v > 0 {
		customers = v
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Generate an instance without storing it
	body, _ := json.Marshal(map[string]any{"numCustomers": customers, "seed": 1})
	resp, err := http.Post(base+"/v1/instances/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("generate: %s", resp.Status)
	}
	var gen struct {
		VRPData json.RawMessage `json:"vrpData"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		log.Fatal(err)
	}

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws/optimize"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	req := map[string]any{
		"config":  map[string]any{"numWolves": 30, "numIterations": 200, "vehicleCapacity": 50, "progressInterval": 10},
		"vrpData": gen.VRPData,
	}
	if err := c.WriteJSON(req); err != nil {
		log.Fatal(err)
	}
	for {
		var msg map[string]any
		if err := c.ReadJSON(&msg); err != nil {
			log.Fatalf("read: %v", err)
		}
		if e, ok := msg["error"]; ok {
			log.Fatalf("server: %v", e)
		}
		if msg["done"] == true {
			log.Printf("done: best=%.2f runtime=%.3fs routes=%v", msg["best_fitness"], msg["runtime"], msg["routes"])
			return
		}
		log.Printf("iter=%v best=%.2f", msg["iter"], msg["best_fitness"])
	}
}
