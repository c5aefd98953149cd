package cleaner

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Outcome は1ファイル分の処理結果です。
type Outcome struct {
	Input    string
	Output   string
	Err      error
	Duration time.Duration
}

// CleanAll は inputs を先頭から順に1件ずつ処理します。
// 同じパスは1回だけ処理し、個別の失敗では中断しません。
// ctx はファイルの間でのみ確認し、取消時はそれまでの結果と ctx.Err() を返します。
func (c *Cleaner) CleanAll(ctx context.Context, inputs []string, outputFolder string, report func(Outcome)) ([]Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	seen := make(map[string]struct{}, len(inputs))
	outcomes := make([]Outcome, 0, len(inputs))
	for _, input := range inputs {
		if _, dup := seen[input]; dup {
			continue
		}
		seen[input] = struct{}{}

		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		start := time.Now()
		output, err := c.Clean(ctx, input, outputFolder)
		outcome := Outcome{
			Input:    input,
			Output:   output,
			Err:      err,
			Duration: time.Since(start),
		}

		event := c.logger.Info()
		if err != nil {
			event = c.logger.Error().Err(err)
		}
		event.Str("input", input).Str("output", output).Dur("elapsed", outcome.Duration).Msg("file processed")

		outcomes = append(outcomes, outcome)
		if report != nil {
			report(outcome)
		}
	}
	return outcomes, nil
}

// Failed は失敗した Outcome の数を返します。
func Failed(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// readDir はテストで差し替えます。
var readDir = os.ReadDir

// Expand はディレクトリを直下の対応ファイル（名前順）に展開します。
// ファイルや存在しないパス、読めないディレクトリはそのまま残し、処理時にエラーとして報告させます。
func Expand(paths []string) []string {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			out = append(out, p)
			continue
		}

		entries, err := readDir(p)
		if err != nil {
			out = append(out, p)
			continue
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() || !Supported(e.Name()) {
				continue
			}
			found = append(found, filepath.Join(p, e.Name()))
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out
}
