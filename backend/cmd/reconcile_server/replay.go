package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"reconcileServer/backend/config"
	"reconcileServer/backend/internal/reconcile"
)

var replayFormats = []string{"text", "json", "yaml"}

type replayOptions struct {
	*rootOptions
	Format         string
	WindowMs       int64
	ThresholdRatio float64
}

// 输入的一行；数值按 float64 读入，交给 ParseEvent 处理
type replayRecord struct {
	SectionID     string          `json:"sectionId"`
	AuthorID      json.RawMessage `json:"authorId"`
	TimestampMs   float64         `json:"timestampMs"`
	ChangedChars  float64         `json:"changedChars"`
	SectionLength float64         `json:"sectionLength"`
}

type replayTrigger struct {
	Line    int               `json:"line" yaml:"line"`
	Trigger reconcile.Trigger `json:"trigger" yaml:"trigger"`
}

type replaySkip struct {
	Line   int    `json:"line" yaml:"line"`
	Reason string `json:"reason" yaml:"reason"`
}

type replayResult struct {
	Events   int             `json:"events" yaml:"events"`
	Triggers []replayTrigger `json:"triggers" yaml:"triggers"`
	Skipped  []replaySkip    `json:"skipped" yaml:"skipped"`
}

func newReplayCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &replayOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "把 JSONL 编辑事件喂给检测器，输出触发结果",
		Long: `逐行读取 SectionEditEvent（JSON Lines），按顺序送入冲突检测器，
打印每次触发。文件省略或为 "-" 时读标准输入。

示例：
  reconcile-server replay edits.jsonl
  reconcile-server replay --threshold 0.3 --format yaml < edits.jsonl`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range replayFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, replayFormats)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// 没有显式给出的参数取配置文件里的值
			if !cmd.Flags().Changed("window-ms") || !cmd.Flags().Changed("threshold") {
				cfg, err := config.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("window-ms") {
					opts.WindowMs = cfg.Reconcile.WindowMs
				}
				if !cmd.Flags().Changed("threshold") {
					opts.ThresholdRatio = cfg.Reconcile.ThresholdRatio
				}
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return runReplay(in, cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Format, "format", "text", "输出格式 (text|json|yaml)")
	cmd.Flags().Int64Var(&opts.WindowMs, "window-ms", reconcile.DefaultWindowMs, "滑动窗口长度（毫秒）")
	cmd.Flags().Float64Var(&opts.ThresholdRatio, "threshold", 0.5, "触发阈值（变更比例，严格大于）")
	return cmd
}

func runReplay(in io.Reader, out io.Writer, opts *replayOptions) error {
	det, err := reconcile.NewDetector(
		reconcile.WithWindow(opts.WindowMs),
		reconcile.WithThresholdRatio(opts.ThresholdRatio),
	)
	if err != nil {
		return err
	}

	result := replayResult{Triggers: []replayTrigger{}, Skipped: []replaySkip{}}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec replayRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			result.Skipped = append(result.Skipped, replaySkip{Line: line, Reason: err.Error()})
			continue
		}
		ev, err := reconcile.ParseEvent(rec.SectionID, authorString(rec.AuthorID),
			rec.TimestampMs, rec.ChangedChars, rec.SectionLength)
		if err != nil {
			result.Skipped = append(result.Skipped, replaySkip{Line: line, Reason: err.Error()})
			continue
		}
		trig, err := det.RecordEdit(ev)
		if err != nil {
			result.Skipped = append(result.Skipped, replaySkip{Line: line, Reason: err.Error()})
			continue
		}
		result.Events++
		if trig != nil {
			result.Triggers = append(result.Triggers, replayTrigger{Line: line, Trigger: *trig})
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return writeReplay(out, opts.Format, result)
}

// authorId 允许字符串或数字
func authorString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func writeReplay(out io.Writer, format string, result replayResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(result); err != nil {
			return err
		}
		return enc.Close()
	}

	for _, t := range result.Triggers {
		s := t.Trigger.Stats
		fmt.Fprintf(out, "line=%d section=%s at=%d edits=%d authors=%d changed=%d length=%d ratio=%.3f\n",
			t.Line, t.Trigger.SectionID, t.Trigger.TriggeredAtMs,
			s.EditCount, s.DistinctAuthorCount, s.TotalChangedChars, s.SectionLength, s.ChangeRatio)
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(out, "skipped line=%d: %s\n", s.Line, s.Reason)
	}
	fmt.Fprintf(out, "events=%d triggers=%d skipped=%d\n", result.Events, len(result.Triggers), len(result.Skipped))
	return nil
}
