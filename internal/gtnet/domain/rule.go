package domain

// RuleSlot 一条 (条件, 应答码, 应答消息) 三元组
type RuleSlot struct {
	Condition    string
	ResponseCode MessageCode
	Message      string
}

// Configured 第 2、3 槽只有设置了应答码才参与求值
func (s RuleSlot) Configured() bool { return !s.ResponseCode.IsUnknown() }

// AutoResponseRule 按请求码配置的自动应答规则，按顺序求值，首个为真的条件胜出
type AutoResponseRule struct {
	ID          uint
	RequestCode MessageCode
	Slots       [3]RuleSlot
	// WaitDays 拒绝后对方再次请求前须等待的天数
	WaitDays int
}

// ActiveSlots 参与求值的槽位；第 1 槽总是参与
func (r *AutoResponseRule) ActiveSlots() []RuleSlot {
	out := []RuleSlot{r.Slots[0]}
	for _, s := range r.Slots[1:] {
		if s.Configured() {
			out = append(out, s)
		}
	}
	return out
}
