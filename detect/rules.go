package detect

import (
	"fmt"
	"regexp"
	"time"

	"argus/core"
)

// Built-in detection patterns. The literal tokens are case-sensitive and the
// IP is a dotted-quad, matching what sshd and common HTTP access logs emit.
var (
	sshFailPattern      = regexp.MustCompile(`Failed password for (?:invalid user )?\S+ from (\d+\.\d+\.\d+\.\d+).*ssh2`)
	genericConnPattern  = regexp.MustCompile(`from (\d+\.\d+\.\d+\.\d+) port (\d+)`)
	sqlInjectionPattern = regexp.MustCompile(`(?i)UNION\s+SELECT|\bOR\b\s+1=1|' OR '1'='1|" OR "1"="1|DROP\s+TABLE|--\s|/\*`)
	rootLoginPattern    = regexp.MustCompile(`Accepted (?:password|publickey) for root from (\d+\.\d+\.\d+\.\d+)`)
)

// NewSSHBruteForceRule detects repeated failed SSH logins from one IP.
func NewSSHBruteForceRule(window time.Duration, threshold int) *core.CountWindowRule {
	return &core.CountWindowRule{
		RuleID:    "ssh-bruteforce",
		AlertType: "Brute Force",
		Level:     core.SeverityHigh,
		Window:    window,
		Threshold: threshold,
		ExtractKey: func(event *core.Event) (string, bool) {
			m := sshFailPattern.FindStringSubmatch(event.Message)
			if m == nil {
				return "", false
			}
			return m[1], true
		},
		Describe: func(key string, count int) string {
			return fmt.Sprintf("%d failed SSH attempts detected from %s within %.0f seconds.",
				count, key, window.Seconds())
		},
	}
}

// NewPortScanRule detects one IP probing many distinct ports.
func NewPortScanRule(window time.Duration, threshold int) *core.DistinctWindowRule {
	return &core.DistinctWindowRule{
		RuleID:    "port-scan",
		AlertType: "Port Scan",
		Level:     core.SeverityMedium,
		Window:    window,
		Threshold: threshold,
		Extract: func(event *core.Event) (string, string, bool) {
			m := genericConnPattern.FindStringSubmatch(event.Message)
			if m == nil {
				return "", "", false
			}
			return m[1], m[2], true
		},
		Describe: func(key string, distinct int) string {
			return fmt.Sprintf("Possible port scan: %d distinct ports targeted from %s within %.0f seconds.",
				distinct, key, window.Seconds())
		},
	}
}

// NewSQLInjectionRule flags messages carrying common SQL injection
// signatures. Stateless; an IP in the message is extracted when present but
// is not required.
func NewSQLInjectionRule(cooldown time.Duration) *core.PatternRule {
	return &core.PatternRule{
		RuleID:      "sql-injection",
		AlertType:   "SQL Injection",
		Level:       core.SeverityHigh,
		CooldownDur: cooldown,
		Pattern:     sqlInjectionPattern,
		Describe: func(string) string {
			return "Potential SQL injection payload detected in log message."
		},
	}
}

// NewRootLoginRule flags any successful root SSH login.
func NewRootLoginRule(cooldown time.Duration) *core.PatternRule {
	return &core.PatternRule{
		RuleID:      "root-login",
		AlertType:   "Root Login",
		Level:       core.SeverityHigh,
		CooldownDur: cooldown,
		Pattern:     rootLoginPattern,
		Describe: func(ip string) string {
			return fmt.Sprintf("Suspicious root SSH login detected from %s.", ip)
		},
	}
}

// BuiltinRules assembles the standard rule set. Rules are registered into an
// ordered list but are independent; evaluation order does not affect the
// outcome.
func BuiltinRules(bruteWindow time.Duration, bruteThreshold int, scanWindow time.Duration, scanThreshold int, patternCooldown time.Duration) []core.Rule {
	return []core.Rule{
		NewSSHBruteForceRule(bruteWindow, bruteThreshold),
		NewPortScanRule(scanWindow, scanThreshold),
		NewSQLInjectionRule(patternCooldown),
		NewRootLoginRule(patternCooldown),
	}
}
