package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/recallasin/internal/app/run"
	"github.com/John-Robertt/recallasin/internal/config"
	"github.com/John-Robertt/recallasin/internal/domain"
	"github.com/John-Robertt/recallasin/internal/infra/fsx"
	"github.com/John-Robertt/recallasin/internal/provider"
	"github.com/John-Robertt/recallasin/internal/provider/amazon"
	"github.com/John-Robertt/recallasin/internal/provider/upctoasin"
	"github.com/John-Robertt/recallasin/internal/upc"
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	var code int
	switch args[0] {
	case "upc":
		code = upcCmd(args[1:])
	case "resolve":
		code = resolveCmd(args[1:])
	case "load-reviews":
		code = loadReviewsCmd(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		code = 2
	}
	if code != 0 {
		os.Exit(code)
	}
}

// upcCmd 离线还原：不触网，只打印候选（或 UPClength-N）。
func upcCmd(args []string) int {
	var raw, known string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case isHelp(a):
			printUPCUsage()
			return 0
		case a == "--known":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "参数错误：--known 需要一个值\n\n")
				printUPCUsage()
				return 2
			}
			i++
			known = args[i]
		case strings.HasPrefix(a, "--known="):
			known = strings.TrimPrefix(a, "--known=")
		case strings.HasPrefix(a, "-") && len(a) > 1:
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n\n", a)
			printUPCUsage()
			return 2
		default:
			if raw != "" {
				fmt.Fprintf(os.Stderr, "参数错误：重复的 UPC：%q 与 %q\n\n", raw, a)
				printUPCUsage()
				return 2
			}
			raw = a
		}
	}
	if raw == "" {
		fmt.Fprintf(os.Stderr, "参数错误：缺少 UPC\n\n")
		printUPCUsage()
		return 2
	}

	var knownList []string
	for _, k := range upc.SplitList(known) {
		knownList = append(knownList, upc.Sanitize(k))
	}

	cands, err := upc.Candidates(raw, knownList)
	if err != nil {
		var le *upc.LengthError
		if errors.As(err, &le) {
			fmt.Fprintln(os.Stdout, le.Sentinel())
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, c := range cands {
		fmt.Fprintln(os.Stdout, c)
	}
	return 0
}

func resolveCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printResolveUsage()
			return 0
		}
	}

	ra, err := parseResolveArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printResolveUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		Input:       ra.Input,
		Output:      ra.Output,
		Provider:    ra.Provider,
		ProviderSet: ra.ProviderSet,
		Apply:       ra.Apply,
		ApplySet:    ra.ApplySet,
	})
	if err != nil {
		emitReport(reportForConfigError(ra, err))
		return 1
	}

	log, err := newLogger(eff.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败：%v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	reg, err := provider.NewRegistry(
		upctoasin.Provider{BaseURL: eff.UPCToASINBaseURL},
		amazon.Provider{BaseURL: eff.AmazonBaseURL},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化 provider registry 失败：%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var obs run.Observer
	if isTTY(os.Stderr) {
		obs = newProgressLog(log.Named("progress"))
	}

	rr := run.ExecuteResolve(ctx, eff, reg, obs, log)

	// apply：写 <cache_dir>/report.json；dry-run 禁止落盘。
	if eff.Apply && eff.CacheDir != "" {
		if err := writeReportFile(eff.CacheDir, rr); err != nil {
			log.Error("写入 report.json 失败", zap.Error(err))
			emitReport(rr)
			return 1
		}
	}

	emitReport(rr)
	if rr.Summary.Failed == 0 {
		return 0
	}
	return 1
}

type resolveArgs struct {
	Input       string
	Output      string
	Provider    string
	ProviderSet bool
	Apply       bool
	ApplySet    bool
}

func parseResolveArgs(args []string) (resolveArgs, error) {
	ra := resolveArgs{}

	value := func(i *int, name string) (string, error) {
		if *i+1 >= len(args) {
			return "", fmt.Errorf("%s 需要一个值", name)
		}
		*i++
		return args[*i], nil
	}

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--provider":
			v, err := value(&i, a)
			if err != nil {
				return resolveArgs{}, err
			}
			ra.Provider = v
			ra.ProviderSet = true
		case strings.HasPrefix(a, "--provider="):
			ra.Provider = strings.TrimPrefix(a, "--provider=")
			ra.ProviderSet = true
		case a == "--output":
			v, err := value(&i, a)
			if err != nil {
				return resolveArgs{}, err
			}
			ra.Output = v
		case strings.HasPrefix(a, "--output="):
			ra.Output = strings.TrimPrefix(a, "--output=")
		case a == "--apply":
			ra.Apply = true
			ra.ApplySet = true
		case strings.HasPrefix(a, "--apply="):
			v, err := strconv.ParseBool(strings.TrimPrefix(a, "--apply="))
			if err != nil {
				return resolveArgs{}, fmt.Errorf("--apply 只能是 true 或 false，实际是 %q", strings.TrimPrefix(a, "--apply="))
			}
			ra.Apply = v
			ra.ApplySet = true
		case strings.HasPrefix(a, "-"):
			return resolveArgs{}, fmt.Errorf("未知参数 %q", a)
		default:
			if ra.Input != "" {
				return resolveArgs{}, fmt.Errorf("重复的输入：%q 与 %q", ra.Input, a)
			}
			ra.Input = a
		}
	}

	if ra.ProviderSet {
		ra.Provider = strings.ToLower(strings.TrimSpace(ra.Provider))
		if err := config.ValidateProvider(ra.Provider); err != nil {
			return resolveArgs{}, fmt.Errorf("--provider 无效：%v", err)
		}
	}
	return ra, nil
}

func loadReviewsCmd(args []string) int {
	var path string
	skip := 0
	for i := 0; i < len(args); i++ {
		a := args[i]
		var sv string
		switch {
		case isHelp(a):
			printLoadReviewsUsage()
			return 0
		case a == "--skip":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "参数错误：--skip 需要一个值\n\n")
				printLoadReviewsUsage()
				return 2
			}
			i++
			sv = args[i]
		case strings.HasPrefix(a, "--skip="):
			sv = strings.TrimPrefix(a, "--skip=")
		case strings.HasPrefix(a, "-"):
			fmt.Fprintf(os.Stderr, "参数错误：未知参数 %q\n\n", a)
			printLoadReviewsUsage()
			return 2
		default:
			if path != "" {
				fmt.Fprintf(os.Stderr, "参数错误：重复的输入：%q 与 %q\n\n", path, a)
				printLoadReviewsUsage()
				return 2
			}
			path = a
			continue
		}
		if sv != "" {
			n, err := strconv.Atoi(sv)
			if err != nil || n < 0 {
				fmt.Fprintf(os.Stderr, "参数错误：--skip 必须是非负整数，实际是 %q\n\n", sv)
				printLoadReviewsUsage()
				return 2
			}
			skip = n
		}
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "参数错误：缺少评论 CSV 路径\n\n")
		printLoadReviewsUsage()
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}
	eff, err := config.LoadOptional(cwd)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	log, err := newLogger(eff.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败：%v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, path)
	}
	rep, err := run.ExecuteLoadReviews(ctx, eff, path, skip, log)
	if err != nil {
		log.Error("导入评论失败", zap.Error(err), zap.Int("reviews_added", rep.ReviewsAdded), zap.Int("batches", rep.Batches))
		return 1
	}

	summary := fmt.Sprintf("完成：read=%d skipped=%d reviewers_added=%d reviews_added=%d duplicates=%d batches=%d\n",
		rep.Read, rep.Skipped, rep.ReviewersAdded, rep.ReviewsAdded, rep.Duplicates, rep.Batches)
	if isTTY(os.Stdout) {
		fmt.Fprint(os.Stdout, summary)
		return 0
	}
	_ = json.NewEncoder(os.Stdout).Encode(rep)
	fmt.Fprint(os.Stderr, summary)
	return 0
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  recallasin upc <raw> [--known a;b;c]
  recallasin resolve [input.csv] [--output path] [--provider upctoasin|amazon] [--apply[=true|false]]
  recallasin load-reviews <reviews.csv> [--skip N]

命令：
  upc            离线还原 UPC 候选（不触网）
  resolve        为召回 CSV 中的每个 UPC 查询 ASIN（默认 dry-run）
  load-reviews   把评论 CSV 导入数据库

使用 "recallasin <命令> --help" 查看详细说明。
`)
}

func printUPCUsage() {
	fmt.Fprint(os.Stdout, `用法：
  recallasin upc <raw> [--known a;b;c]

参数：
  --known     同一召回事件下已知的 12 位 UPC（以 ; 分隔），用于 10/11 位输入的消歧
  -h, --help  显示帮助
`)
}

func printResolveUsage() {
	fmt.Fprint(os.Stdout, `用法：
  recallasin resolve [input.csv] [--output path] [--provider upctoasin|amazon] [--apply[=true|false]]

参数：
  --output    输出 CSV（默认 <input>_asins.csv）
  --provider  首选 provider：upctoasin|amazon（未指定则读配置文件；最终默认 upctoasin）
  --apply     写出结果/缓存/数据库（默认 dry-run）；支持 --apply=false 覆盖配置中的 apply=true
  -h, --help  显示帮助
`)
}

func printLoadReviewsUsage() {
	fmt.Fprint(os.Stdout, `用法：
  recallasin load-reviews <reviews.csv> [--skip N]

参数：
  --skip      跳过开头 N 行（用于续跑）
  -h, --help  显示帮助

数据库由 recallasin.json 的 database.driver / database.dsn 指定。
`)
}

func emitReport(rr domain.RunReport) {
	summary := fmt.Sprintf("完成：resolved=%d not_found=%d unresolvable=%d failed=%d\n",
		rr.Summary.Resolved, rr.Summary.NotFound, rr.Summary.Unresolvable, rr.Summary.Failed,
	)
	if isTTY(os.Stdout) {
		fmt.Fprint(os.Stdout, summary)
		if rr.Summary.Failed > 0 {
			for _, it := range rr.Items {
				if it.Status != domain.StatusFailed {
					continue
				}
				key := it.Raw
				if key == "" {
					key = "<run>"
				}
				fmt.Fprintf(os.Stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
			}
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	_ = json.NewEncoder(os.Stdout).Encode(rr)
	fmt.Fprint(os.Stderr, summary)
}

func reportForConfigError(ra resolveArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		Input:      ra.Input,
		Output:     ra.Output,
		DryRun:     !(ra.ApplySet && ra.Apply),
		StartedAt:  now,
		FinishedAt: now,
		Items: []domain.UPCResult{{
			Candidates: []string{},
			Tried:      []string{},
			Status:     domain.StatusFailed,
			ErrorCode:  config.Code(err),
			ErrorMsg:   err.Error(),
		}},
	}
	rr.Finalize()
	return rr
}

func writeReportFile(dir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomicReplace(dir, "report.json", b)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
