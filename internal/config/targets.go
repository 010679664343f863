package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCategory はカテゴリ未指定時に用いるカテゴリ。
const DefaultCategory = "conjuntos de alfaiataria"

// Target は定期スクレイピングの対象カテゴリ1件を表す。
type Target struct {
	Category string `yaml:"category"`
	URL      string `yaml:"url"`
	VoiceURL string `yaml:"voice_url"`
}

// targetsFile はターゲットファイルのトップレベル構造。
type targetsFile struct {
	Targets []Target `yaml:"targets"`
}

// LoadTargets はYAMLのターゲットファイルを読み込む。
// カテゴリは小文字化し、未指定の場合はDefaultCategoryを用いる。
// urlが空のターゲットがある場合はエラーを返す。
func LoadTargets(path string) ([]Target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return ParseTargets(data)
}

// ParseTargets はYAMLバイト列からターゲット一覧を生成する。
func ParseTargets(data []byte) ([]Target, error) {
	var f targetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse targets yaml: %w", err)
	}

	targets := make([]Target, 0, len(f.Targets))
	for i, t := range f.Targets {
		t.URL = strings.TrimSpace(t.URL)
		if t.URL == "" {
			return nil, fmt.Errorf("targets[%d]: url is required", i)
		}
		t.Category = strings.ToLower(strings.TrimSpace(t.Category))
		if t.Category == "" {
			t.Category = DefaultCategory
		}
		t.VoiceURL = strings.TrimSpace(t.VoiceURL)
		targets = append(targets, t)
	}
	return targets, nil
}
