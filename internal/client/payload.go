package client

// The provider emits two schema variants for the same result data: webhook
// callbacks use camelCase while the record-info endpoint uses snake_case with
// source_* aliases. Both are normalized here, at the boundary, into one
// canonical shape; nothing deeper in the pipeline branches on the variant.

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage is the provider's own view of how far a task has progressed.
type Stage string

const (
	StageProcessing Stage = "processing"
	StageText       Stage = "text"
	StageFirst      Stage = "first"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// Clip is one normalized media result.
type Clip struct {
	ID        string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	Tags      string  `json:"tags,omitempty"`
	Lyrics    string  `json:"lyrics,omitempty"`
	ModelName string  `json:"modelName,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	AudioURL  string  `json:"audioUrl,omitempty"`
	StreamURL string  `json:"streamUrl,omitempty"`
	ImageURL  string  `json:"imageUrl,omitempty"`
}

// GenerationPayload is the canonical result payload shared by the webhook
// and polling paths. It round-trips through JSON so it can be cached on the
// request row for crash recovery.
type GenerationPayload struct {
	TaskID  string `json:"taskId"`
	Stage   Stage  `json:"stage"`
	Message string `json:"message,omitempty"`
	Clips   []Clip `json:"clips,omitempty"`
}

// clipWire accepts every known alias for each field. The provider uses
// 'prompt' for lyrics.
type clipWire struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Tags      string  `json:"tags"`
	Prompt    string  `json:"prompt"`
	Lyric     string  `json:"lyric"`
	Duration  float64 `json:"duration"`
	ModelName string  `json:"model_name"`

	AudioURL             string `json:"audioUrl"`
	AudioURLSnake        string `json:"audio_url"`
	SourceAudioURL       string `json:"sourceAudioUrl"`
	SourceAudioURLSnake  string `json:"source_audio_url"`
	StreamAudioURL       string `json:"streamAudioUrl"`
	StreamAudioURLSnake  string `json:"stream_audio_url"`
	SourceStreamURL      string `json:"sourceStreamAudioUrl"`
	SourceStreamURLSnake string `json:"source_stream_audio_url"`
	ImageURL             string `json:"imageUrl"`
	ImageURLSnake        string `json:"image_url"`
	SourceImageURL       string `json:"sourceImageUrl"`
	SourceImageURLSnake  string `json:"source_image_url"`
}

func (w *clipWire) normalize() Clip {
	return Clip{
		ID:        w.ID,
		Title:     w.Title,
		Tags:      w.Tags,
		Lyrics:    first(w.Prompt, w.Lyric),
		ModelName: w.ModelName,
		Duration:  w.Duration,
		AudioURL:  first(w.SourceAudioURLSnake, w.AudioURLSnake, w.SourceAudioURL, w.AudioURL),
		StreamURL: first(w.SourceStreamURLSnake, w.StreamAudioURLSnake, w.SourceStreamURL, w.StreamAudioURL),
		ImageURL:  first(w.SourceImageURLSnake, w.ImageURLSnake, w.SourceImageURL, w.ImageURL),
	}
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeClips(wires []clipWire) []Clip {
	if len(wires) == 0 {
		return nil
	}
	clips := make([]Clip, 0, len(wires))
	for i := range wires {
		clips = append(clips, wires[i].normalize())
	}
	return clips
}

type callbackWire struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		CallbackType string     `json:"callbackType"`
		TaskID       string     `json:"taskId"`
		TaskIDSnake  string     `json:"task_id"`
		Data         []clipWire `json:"data"`
	} `json:"data"`
}

// ParseCallback normalizes a webhook callback body.
func ParseCallback(body []byte) (*GenerationPayload, error) {
	var w callbackWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode callback payload: %w", err)
	}

	taskID := first(w.Data.TaskID, w.Data.TaskIDSnake)
	if taskID == "" {
		return nil, fmt.Errorf("callback payload has no task id")
	}

	p := &GenerationPayload{
		TaskID:  taskID,
		Message: w.Msg,
		Clips:   normalizeClips(w.Data.Data),
	}

	if w.Code != 200 {
		p.Stage = StageError
		if p.Message == "" {
			p.Message = "Generation failed"
		}
		return p, nil
	}

	switch w.Data.CallbackType {
	case "text":
		p.Stage = StageText
	case "first":
		p.Stage = StageFirst
	case "complete":
		p.Stage = StageComplete
	default:
		if len(p.Clips) > 0 {
			p.Stage = StageComplete
		} else {
			p.Stage = StageProcessing
		}
	}
	return p, nil
}

type recordInfoWire struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID            string `json:"taskId"`
		TaskIDSnake       string `json:"task_id"`
		Status            string `json:"status"`
		ErrorMessage      string `json:"errorMessage"`
		ErrorMessageSnake string `json:"error_message"`
		Response          struct {
			SunoData []clipWire `json:"sunoData"`
			Data     []clipWire `json:"data"`
		} `json:"response"`
	} `json:"data"`
}

// ParseRecordInfo normalizes a record-info (poll) response body.
func ParseRecordInfo(body []byte) (*GenerationPayload, error) {
	var w recordInfoWire
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decode record-info payload: %w", err)
	}

	if w.Code != 200 {
		return &GenerationPayload{
			TaskID:  first(w.Data.TaskID, w.Data.TaskIDSnake),
			Stage:   StageError,
			Message: first(w.Msg, "Provider query failed"),
		}, nil
	}

	wires := w.Data.Response.SunoData
	if len(wires) == 0 {
		wires = w.Data.Response.Data
	}

	p := &GenerationPayload{
		TaskID:  first(w.Data.TaskID, w.Data.TaskIDSnake),
		Message: first(w.Data.ErrorMessage, w.Data.ErrorMessageSnake),
		Clips:   normalizeClips(wires),
	}

	status := strings.ToUpper(w.Data.Status)
	switch {
	case strings.Contains(status, "FAILED") || strings.Contains(status, "ERROR"):
		p.Stage = StageError
		if p.Message == "" {
			p.Message = "Generation failed"
		}
	case status == "SUCCESS":
		p.Stage = StageComplete
	case status == "FIRST_SUCCESS":
		p.Stage = StageFirst
	case status == "TEXT_SUCCESS":
		p.Stage = StageText
	default:
		p.Stage = StageProcessing
	}
	return p, nil
}
