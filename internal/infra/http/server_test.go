package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestShutdownBeforeStartStopsServer(t *testing.T) {
	srv := NewServer(zerolog.Nop(), Options{Addr: "127.0.0.1:0"})
	require.NoError(t, srv.Shutdown(context.Background()))

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start не завершился после Shutdown")
	}
}

func TestShutdownWhileServing(t *testing.T) {
	srv := NewServer(zerolog.Nop(), Options{Addr: "127.0.0.1:0"})
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start не завершился после Shutdown")
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	srv := NewServer(zerolog.Nop(), Options{})
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"status":"error","message":"Endpoint not found"}`, rec.Body.String())
}
