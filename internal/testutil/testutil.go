// Package testutil provides shared test infrastructure for the bench packages:
// a loopback server harness and float assertions.
package testutil

import (
	"math"
	"net/http/httptest"
	"testing"

	"github.com/inference-sim/simbench/client"
	"github.com/inference-sim/simbench/server"
)

// StartServer serves bench on a loopback HTTP server and returns a client
// connected to it. Both are closed when the test ends.
func StartServer(t *testing.T, bench server.Bench) *client.Simulation {
	t.Helper()
	ts := httptest.NewServer(server.New(bench).Handler())
	c := client.NewWithHTTPClient(ts.URL, ts.Client())
	t.Cleanup(func() {
		c.Close()
		ts.Close()
	})
	return c
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
