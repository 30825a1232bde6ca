package state

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/metrics"
	"tradeloop/internal/logger"
	"tradeloop/internal/pkg/jsonutil"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaVersion 只做记录，字段演进靠“缺省即中性”兼容。
const SchemaVersion = 1

//go:embed schema.json
var schemaJSON string

// LearningState 是学习循环的完整持久化状态。
type LearningState struct {
	Version          int                        `json:"version"`
	Metrics          metrics.PrecisionMetrics   `json:"precision_metrics"`
	Adjustments      adjust.StrategyAdjustments `json:"strategy_adjustments"`
	LastOptimization *time.Time                 `json:"last_optimization,omitempty"`
}

// Fresh 返回中性初始状态。
func Fresh() LearningState {
	return LearningState{
		Version:     SchemaVersion,
		Metrics:     metrics.New(),
		Adjustments: adjust.Neutral(),
	}
}

// FileStore 把 LearningState 整体写入单个 JSON 文件。
type FileStore struct {
	path   string
	schema *jsonschema.Schema
}

func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("learning state path is empty")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("learning_state.json", strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add learning state schema: %w", err)
	}
	schema, err := compiler.Compile("learning_state.json")
	if err != nil {
		return nil, fmt.Errorf("compile learning state schema: %w", err)
	}
	return &FileStore{path: path, schema: schema}, nil
}

func (s *FileStore) Path() string { return s.path }

// Load 读取状态文件。任何读取、校验或解析失败都退回中性状态，保证调用方始终拿到可用值。
func (s *FileStore) Load() LearningState {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Infof("learning state: %s not found, starting fresh", s.path)
		} else {
			logger.Warnf("learning state: read %s failed, starting fresh: %v", s.path, err)
		}
		return Fresh()
	}
	st, err := s.decode(raw)
	if err != nil {
		logger.Warnf("learning state: %s unusable, starting fresh: %v", s.path, err)
		return Fresh()
	}
	return st
}

func (s *FileStore) decode(raw []byte) (LearningState, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return LearningState{}, fmt.Errorf("parse: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return LearningState{}, fmt.Errorf("schema: %w", err)
	}
	// 在中性值之上解码，缺失字段保持中性。
	st := Fresh()
	if err := json.Unmarshal(raw, &st); err != nil {
		return LearningState{}, fmt.Errorf("decode: %w", err)
	}
	st.Metrics.EnsureMaps()
	if st.Adjustments.SourceWeights == nil {
		st.Adjustments.SourceWeights = map[string]float64{}
	}
	if st.Version > SchemaVersion {
		logger.Warnf("learning state: file version %d is newer than %d, unknown fields ignored", st.Version, SchemaVersion)
	}
	st.Version = SchemaVersion
	return st, nil
}

// Save 以确定性格式整体覆盖写入（临时文件 + rename）。
func (s *FileStore) Save(st LearningState) error {
	st.Version = SchemaVersion
	data, err := jsonutil.MarshalStable(st)
	if err != nil {
		return fmt.Errorf("marshal learning state: %w", err)
	}
	if err := jsonutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write learning state %s: %w", s.path, err)
	}
	return nil
}
