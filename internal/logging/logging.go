package logging

import (
	"encoding/json"
	"log"
	"time"
)

type Fields struct {
	Service  string         `json:"service,omitempty"`
	OrderID  string         `json:"order_id,omitempty"`
	UserID   string         `json:"user_id,omitempty"`
	JobID    string         `json:"job_id,omitempty"`
	Step     string         `json:"step,omitempty"`
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
	Err      string         `json:"err,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
	Level    string         `json:"level"`
	Occurred string         `json:"ts"`
}

func write(level string, f Fields, err error) {
	f.Level = level
	f.Occurred = time.Now().UTC().Format(time.RFC3339Nano)
	if err != nil {
		f.Err = err.Error()
	}
	b, merr := json.Marshal(f)
	if merr != nil {
		log.Printf("{\"level\":\"error\",\"step\":%q,\"err\":%q}", f.Step, merr.Error())
		return
	}
	log.Print(string(b))
}

func Info(f Fields) { write("info", f, nil) }

// Warn is used for best-effort side effects that failed without failing the operation.
func Warn(f Fields, err error) { write("warn", f, err) }

func Error(f Fields, err error) { write("error", f, err) }
