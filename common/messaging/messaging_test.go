package messaging

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	connected bool
	rtt       time.Duration
	err       error
}

func (f fakeConn) IsConnected() bool           { return f.connected }
func (f fakeConn) RTT() (time.Duration, error) { return f.rtt, f.err }

func TestCheckClientHealth(t *testing.T) {
	tests := []struct {
		name          string
		conn          Connection
		wantConnected bool
		wantErr       bool
	}{
		{name: "nil", conn: nil, wantErr: true},
		{name: "disconnected", conn: fakeConn{}, wantErr: true},
		{name: "rtt failure", conn: fakeConn{connected: true, err: errors.New("timeout")}, wantConnected: true, wantErr: true},
		{name: "healthy", conn: fakeConn{connected: true, rtt: 3 * time.Millisecond}, wantConnected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := CheckClientHealth(tt.conn)
			assert.Equal(t, tt.wantConnected, status.Connected)
			assert.Equal(t, tt.wantErr, status.Error != "")
		})
	}
}

func TestCheckClientHealthLatencyInMillis(t *testing.T) {
	status := CheckClientHealth(fakeConn{connected: true, rtt: 7 * time.Millisecond})
	assert.Equal(t, time.Duration(7), status.Latency)
}

func TestDLQSubject(t *testing.T) {
	assert.Equal(t, "crm.ingest.dlq.max_attempts", DLQSubject("max_attempts"))
	assert.Equal(t, "crm.ingest.dlq.unknown", DLQSubject(""))
}
