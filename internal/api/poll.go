package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"imagetovideo/internal/generation"
	"imagetovideo/internal/metrics"
)

// VideoPoller is satisfied by *generation.Poller.
type VideoPoller interface {
	Poll(ctx context.Context, id string) (*generation.PollResult, error)
}

type PollHandler struct {
	poller VideoPoller
}

func NewPollHandler(poller VideoPoller) *PollHandler {
	return &PollHandler{poller: poller}
}

// GET /poll?videoId=
func (h *PollHandler) Poll(w http.ResponseWriter, r *http.Request) {
	videoID := r.URL.Query().Get("videoId")
	if videoID == "" {
		writeStatus(w, http.StatusBadRequest, "error", "A video ID is required")
		return
	}

	result, err := h.poller.Poll(r.Context(), videoID)
	if err != nil {
		var upstream *generation.UpstreamError
		switch {
		case errors.Is(err, generation.ErrInvalidJobID):
			writeStatus(w, http.StatusBadRequest, "error", "Invalid video ID")
		case errors.As(err, &upstream):
			slog.Warn("upstream poll error", "component", "api", "video_id", videoID, "status", upstream.StatusCode, "error", err)
			writeStatus(w, http.StatusBadGateway, "error", "The video service returned an error")
		default:
			slog.Error("error polling video", "component", "api", "video_id", videoID, "error", err)
			writeStatus(w, http.StatusInternalServerError, "error", "Internal error while checking the video")
		}
		metrics.RecordPoll("error", false)
		return
	}

	metrics.RecordPoll(string(result.State), result.Cached)

	switch result.State {
	case generation.PollProcessing:
		writeStatus(w, http.StatusAccepted, string(result.State), "The video is still being generated, try again shortly")
	case generation.PollNotFound:
		writeStatus(w, http.StatusNotFound, string(result.State), "Video not found")
	default:
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.Itoa(len(result.Video)))
		w.Header().Set("Cache-Control", "private, max-age=86400")
		w.WriteHeader(http.StatusOK)
		w.Write(result.Video)
	}
}
