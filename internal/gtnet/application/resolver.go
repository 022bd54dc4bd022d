package application

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/grafioschtrader/gtnet/internal/gtnet/domain"
	"github.com/grafioschtrader/gtnet/pkg/logger"
	"github.com/grafioschtrader/gtnet/pkg/metrics"
)

// 规则表达式可用的变量名，已存储的规则依赖这些名称
const (
	VarHour       = "hour"
	VarDayOfWeek  = "dayOfWeek"
	VarDailyCount = "dailyCount"
	VarDailyLimit = "dailyLimit"
	VarTimezone   = "timezone"
)

// Resolver 自动应答解析器。除规则查询外是纯函数，可并发调用。
type Resolver struct {
	rules    domain.RuleRepository
	metrics  *metrics.Metrics
	programs sync.Map // 规范化后的条件与变量结构 -> *vm.Program
}

// NewResolver 创建解析器
func NewResolver(rules domain.RuleRepository, m *metrics.Metrics) *Resolver {
	return &Resolver{rules: rules, metrics: m}
}

// Resolve 查找请求码的规则并求值；无规则或无匹配返回 nil
func (r *Resolver) Resolve(ctx context.Context, hc *HandlerContext) (*Decision, error) {
	rule := hc.Rule
	if rule == nil && r.rules != nil {
		found, err := r.rules.FindByRequestCode(ctx, hc.Code)
		if err != nil {
			return nil, fmt.Errorf("find auto-response rule: %w", err)
		}
		rule = found
	}
	if rule == nil {
		r.metrics.ObserveAutoResponse("no_rule")
		return nil, nil
	}
	d := r.Evaluate(ctx, rule, BuildEnv(hc))
	if d == nil {
		r.metrics.ObserveAutoResponse("deferred")
	} else {
		r.metrics.ObserveAutoResponse("matched")
	}
	return d, nil
}

// Evaluate 依次求值各槽位条件，首个为真者胜出
func (r *Resolver) Evaluate(ctx context.Context, rule *domain.AutoResponseRule, env map[string]any) *Decision {
	for i, slot := range rule.ActiveSlots() {
		ok, err := r.eval(slot.Condition, env)
		if err != nil {
			r.metrics.IncRuleEvalError()
			logger.Warn(ctx, "auto-response condition evaluation failed",
				"request", rule.RequestCode.Name(), "slot", i+1, "condition", slot.Condition, "error", err)
			continue
		}
		if ok {
			return &Decision{ResponseCode: slot.ResponseCode, Message: slot.Message, WaitDays: rule.WaitDays}
		}
	}
	return nil
}

func (r *Resolver) eval(condition string, env map[string]any) (bool, error) {
	src := NormalizeCondition(condition)
	if src == "" {
		return true, nil
	}
	// 以环境变量定义编译，变量与同名内置函数冲突时变量优先
	key := src + "\x00" + envShape(env)
	var program *vm.Program
	if cached, ok := r.programs.Load(key); ok {
		program = cached.(*vm.Program)
	} else {
		p, err := expr.Compile(src, expr.Env(env), expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return false, err
		}
		r.programs.Store(key, p)
		program = p
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition evaluated to %T, want bool", out)
	}
	return b, nil
}

// envShape 变量名与类型的稳定描述，编译缓存按它区分
func envShape(env map[string]any) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s:%T;", k, env[k])
	}
	return b.String()
}

// BuildEnv 构造求值变量：UTC 小时、ISO 星期、当日计数与上限、时区以及全部消息参数
func BuildEnv(hc *HandlerContext) map[string]any {
	now := hc.Now.UTC()
	env := map[string]any{
		VarHour:       now.Hour(),
		VarDayOfWeek:  isoWeekday(now),
		VarDailyCount: hc.DailyCount,
		VarDailyLimit: 0,
		VarTimezone:   "",
	}
	if hc.Remote != nil {
		env[VarDailyLimit] = hc.Remote.DailyRequestLimit
		env[VarTimezone] = hc.Remote.TimeZone
	} else if hc.Envelope != nil {
		env[VarDailyLimit] = hc.Envelope.Sender.DailyRequestLimit
		env[VarTimezone] = hc.Envelope.Sender.TimeZone
	}
	if hc.Envelope != nil {
		for k, v := range hc.Envelope.Message.Params {
			if _, reserved := env[k]; reserved {
				continue
			}
			env[k] = typedParam(v)
		}
	}
	return env
}

func isoWeekday(t time.Time) int {
	if wd := t.Weekday(); wd != time.Sunday {
		return int(wd)
	}
	return 7
}

func typedParam(v string) any {
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	switch strings.ToLower(v) {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

var logicalWords = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`\bAND\b`), "&&"},
	{regexp.MustCompile(`\bOR\b`), "||"},
	{regexp.MustCompile(`\bNOT\b`), "!"},
}

// NormalizeCondition 把旧方言 (AND/OR/NOT、=、<>) 转为 expr 语法，字符串字面量内不做替换
func NormalizeCondition(condition string) string {
	src := strings.TrimSpace(condition)
	if src == "" {
		return ""
	}
	var b strings.Builder
	segStart := 0
	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == quote && src[i-1] != '\\' {
				b.WriteString(src[segStart : i+1])
				segStart = i + 1
				quote = 0
			}
			continue
		}
		if c == '"' || c == '\'' {
			b.WriteString(normalizeCode(src[segStart:i]))
			segStart = i
			quote = c
		}
	}
	if quote != 0 {
		b.WriteString(src[segStart:])
	} else {
		b.WriteString(normalizeCode(src[segStart:]))
	}
	return b.String()
}

func normalizeCode(s string) string {
	for _, w := range logicalWords {
		s = w.re.ReplaceAllString(s, w.repl)
	}
	s = strings.ReplaceAll(s, "<>", "!=")
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '=' {
			b.WriteByte(c)
			continue
		}
		prevOp := i > 0 && strings.IndexByte("=!<>", s[i-1]) >= 0
		nextEq := i+1 < len(s) && s[i+1] == '='
		if prevOp || nextEq {
			b.WriteByte(c)
			continue
		}
		b.WriteString("==")
	}
	return b.String()
}
