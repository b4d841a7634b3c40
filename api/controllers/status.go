package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/angelmondragon/fhe-autopay/api/responses"
	"github.com/angelmondragon/fhe-autopay/internal/status"
	pkgerrors "github.com/angelmondragon/fhe-autopay/pkg/errors"
	"github.com/angelmondragon/fhe-autopay/pkg/logger"
)

const statusHeartbeat = 15 * time.Second

// StatusReader exposes the single-slot status and its feed.
type StatusReader interface {
	Current() (status.Status, bool)
	Subscribe() (<-chan status.Status, func())
}

// StatusCurrent returns the latest status, or null when nothing ran yet.
func StatusCurrent(reader StatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "status channel unavailable"))
			return
		}
		current, ok := reader.Current()
		if !ok {
			responses.WriteSuccess(w, nil)
			return
		}
		responses.WriteSuccess(w, current)
	}
}

// StatusStream pushes every status overwrite as a server-sent event until
// the client goes away.
func StatusStream(reader StatusReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "status channel unavailable"))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		feed, unsubscribe := reader.Subscribe()
		defer unsubscribe()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if current, ok := reader.Current(); ok {
			if err := writeStatusEvent(w, current); err != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(statusHeartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case s, ok := <-feed:
				if !ok {
					return
				}
				if err := writeStatusEvent(w, s); err != nil {
					if logg != nil {
						logg.Warn(ctx, "status.stream.write_failed")
					}
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeStatusEvent(w http.ResponseWriter, s status.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload)
	return err
}
