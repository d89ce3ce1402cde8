package broker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeffutter/kafka-postgres-transform/internal/config"
)

func TestConnectRejectsEmptyAddress(t *testing.T) {
	_, err := Connect(config.NatsConfig{})
	require.Error(t, err)
}

func TestConnectFailsFastAgainstUnreachableAddress(t *testing.T) {
	_, err := Connect(config.NatsConfig{Address: "nats://127.0.0.1:1"})
	require.Error(t, err)
}
