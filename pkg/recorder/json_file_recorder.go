package recorder

import (
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

// Recorder 交易/快照记录的落地接口，fire-and-forget
type Recorder interface {
	Record(result any) error
}

// JSON 文件记录器，按行追加
type JSONFileRecorder struct {
	Path string
	mu   sync.Mutex
}

func NewJSONFileRecorder(path string) *JSONFileRecorder {
	_ = os.MkdirAll(filepath.Dir(path), 0755)
	return &JSONFileRecorder{Path: path}
}

func (r *JSONFileRecorder) Record(result any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := os.OpenFile(r.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	_, err = file.Write(data)
	return err
}
