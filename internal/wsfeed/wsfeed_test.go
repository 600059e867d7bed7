package wsfeed

import (
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/firmswap/firmswap/internal/settlement"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestHubBroadcastsDepositedToSubscriber(t *testing.T) {
	hub := New()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()

	// give the server a moment to register the connection before broadcasting.
	time.Sleep(20 * time.Millisecond)

	hub.OnDeposited(settlement.Deposited{
		OrderID:      common.HexToHash("0x01"),
		User:         common.HexToAddress("0xAAAA000000000000000000000000000000bbbb"),
		InputAmount:  big.NewInt(100),
		OutputAmount: big.NewInt(200),
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "Deposited", msg.Kind)
}

func TestHubDoesNotBroadcastToDisconnectedClient(t *testing.T) {
	hub := New()
	server := httptest.NewServer(hub)
	defer server.Close()

	conn := dial(t, server)
	conn.Close()
	time.Sleep(20 * time.Millisecond)

	require.NotPanics(t, func() {
		hub.OnSettled(settlement.Settled{OrderID: common.HexToHash("0x02")})
	})
}
