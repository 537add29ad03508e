package inject

import (
	"regexp"

	"github.com/pearlgate/gateway/pkg/models"
)

// pattern pairs a compiled regex with the threat category it signals and the
// category's default severity. Each category ships English plus a small set
// of multilingual variants, compiled as alternatives in the same regex.
type pattern struct {
	re       *regexp.Regexp
	category string
	severity models.Severity
}

// patternTable holds the ten regex threat categories from spec §4.4, each
// with its fixed default severity.
var patternTable = []pattern{
	{
		category: "instruction_override",
		severity: models.SeverityHigh,
		re: regexp.MustCompile(`(?i)(ignore (all|any|previous|above)( previous| above)? instructions?|disregard (the|all|your) (previous|above) (instructions?|prompt)|forget (everything|what i said|your instructions)|이전 지시를 무시|前の指示を無視|忽略之前的指示)`),
	},
	{
		category: "role_manipulation",
		severity: models.SeverityMedium,
		re: regexp.MustCompile(`(?i)(you are now|act as if you|pretend (to be|you are)|roleplay as|new persona|역할을 해|として振る舞って|扮演)`),
	},
	{
		category: "system_impersonation",
		severity: models.SeverityCritical,
		re: regexp.MustCompile(`(?i)(\[?system\]?\s*:|<\|?system\|?>|###\s*system|i am the system|시스템\s*:|システム\s*:|系统\s*[:：])`),
	},
	{
		category: "secret_extraction",
		severity: models.SeverityCritical,
		re: regexp.MustCompile(`(?i)(show me (your|the) (api[_ ]?key|system prompt|instructions)|reveal (your|the) (prompt|instructions|secret)|print your (instructions|configuration)|시스템\s*프롬프트를\s*보여|システムプロンプトを見せ|显示你的系统提示)`),
	},
	{
		category: "dangerous_command",
		severity: models.SeverityCritical,
		re: regexp.MustCompile(`(?i)(rm\s+-rf\s+/|drop\s+table|format\s+c:|:\(\)\{\s*:\|:&\s*\};:|sudo\s+rm|del\s+/[sf]\s+/[qq])`),
	},
	{
		category: "urgency_manipulation",
		severity: models.SeverityMedium,
		re: regexp.MustCompile(`(?i)(urgent(ly)?[,!]|act now|immediately required|emergency override|right now or|긴급히|緊急に|紧急)`),
	},
	{
		category: "authority_impersonation",
		severity: models.SeverityHigh,
		re: regexp.MustCompile(`(?i)(i am (your|the) (developer|admin|administrator|owner|creator)|as (your|the) administrator|this is (openai|anthropic) support|개발자입니다|開発者です|我是开发者)`),
	},
	{
		category: "context_hijacking",
		severity: models.SeverityHigh,
		re: regexp.MustCompile(`(?i)(end of (user|system) (message|prompt)|---\s*end\s*context\s*---|\[end of instructions\]|새로운\s*대화|新しい会話|新的对话)`),
	},
	{
		category: "token_smuggling",
		severity: models.SeverityMedium,
		re: regexp.MustCompile(`(?i)(base64|rot13|hex\s*decode|zero.width|unicode\s*escape)`),
	},
	{
		category: "safety_bypass",
		severity: models.SeverityHigh,
		re: regexp.MustCompile(`(?i)(dan mode|jailbreak|no (restrictions|filters|limits)|bypass (safety|content) (filter|policy)|안전\s*장치\s*해제|安全フィルタを無効|绕过安全)`),
	},
}
