// Command Test is a manual client for the realtime endpoint: it logs in,
// opens /ws and prints every pushed frame.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/websocket"
)

func prompt(reader *bufio.Reader, label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line == "" {
		return def
	}
	return line
}

func login(base, username, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"login": username, "password": password})
	resp, err := http.Post(base+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func main() {
	reader := bufio.NewReader(os.Stdin)

	base := prompt(reader, "Server", "http://localhost:8088")
	username := prompt(reader, "Username", "")
	password := prompt(reader, "Password", "")

	token, err := login(base, username, password)
	if err != nil {
		log.Fatal("Login failed:", err)
	}

	url := "ws" + strings.TrimPrefix(base, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Fatal("WebSocket connection failed:", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		log.Fatal("Failed to send token:", err)
	}
	log.Println("Connected as", username)

	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Println("Read error:", err)
				os.Exit(0)
			}
			log.Println("Received:", string(message))
		}
	}()

	// Enter sends a ping so a stale connection shows up quickly.
	for {
		if _, err := reader.ReadString('\n'); err != nil {
			return
		}
		if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
			log.Println("Send error:", err)
			return
		}
	}
}
