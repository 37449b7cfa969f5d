package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ステータス遷移ポリシーファイル
//
//	transitions:
//	  pending: [confirmed, cancelled]
//	  confirmed: [shipped, cancelled]
type StatusPolicyFile struct {
	Transitions map[string][]string `yaml:"transitions"`
}

func LoadStatusPolicyFile(path string) (StatusPolicyFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return StatusPolicyFile{}, fmt.Errorf("read status policy: %w", err)
	}
	return ParseStatusPolicy(b)
}

func ParseStatusPolicy(b []byte) (StatusPolicyFile, error) {
	var f StatusPolicyFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return StatusPolicyFile{}, fmt.Errorf("parse status policy: %w", err)
	}
	if len(f.Transitions) == 0 {
		return StatusPolicyFile{}, fmt.Errorf("status policy has no transitions")
	}
	return f, nil
}
