package patterns

// Defaults returns the built-in pattern set: 28 rules spanning all six
// categories. Severities are calibration data tuned against the corpus of
// known injection payloads; they are not derived at runtime.
func Defaults() []Pattern {
	return []Pattern{
		// Instruction override
		{
			Name:        "ignore_instructions",
			Expr:        `ignore\s+(all\s+)?(previous\s+)?(instructions?|prompts?|rules?)`,
			Category:    CategoryInstructionOverride,
			Severity:    0.9,
			Description: "Attempts to override previous instructions",
		},
		{
			Name:        "forget_instructions",
			Expr:        `forget\s+(all\s+)?(previous\s+)?(instructions?|prompts?|context)`,
			Category:    CategoryInstructionOverride,
			Severity:    0.9,
			Description: "Attempts to make the model forget its instructions",
		},
		{
			Name:        "disregard_instructions",
			Expr:        `disregard\s+(all\s+)?(previous\s+)?(instructions?|prompts?|rules?)`,
			Category:    CategoryInstructionOverride,
			Severity:    0.9,
			Description: "Attempts to disregard instructions",
		},
		{
			Name:        "new_instructions",
			Expr:        `your\s+new\s+(instructions?|task|role|purpose)\s+(is|are)`,
			Category:    CategoryInstructionOverride,
			Severity:    0.85,
			Description: "Attempts to set new instructions",
		},
		{
			Name:        "override_system",
			Expr:        `(override|bypass|circumvent)\s+(the\s+)?(system|base)\s+(prompt|instructions?)`,
			Category:    CategoryInstructionOverride,
			Severity:    0.95,
			Description: "Direct system prompt override attempt",
		},

		// Role manipulation
		{
			Name:        "pretend_role",
			Expr:        `(pretend|act|behave)\s+(you\s+are|as\s+if|like)\s+(a\s+)?`,
			Category:    CategoryRoleManipulation,
			Severity:    0.7,
			Description: "Attempts to change the assistant role",
		},
		{
			Name:        "you_are_now",
			Expr:        `you\s+are\s+now\s+(a|an|the)\s+`,
			Category:    CategoryRoleManipulation,
			Severity:    0.75,
			Description: "Attempts to redefine identity",
		},
		{
			Name:        "from_now_on",
			Expr:        `from\s+now\s+on\s+you\s+(are|will|must|should)`,
			Category:    CategoryRoleManipulation,
			Severity:    0.8,
			Description: "Forward-looking identity override",
		},
		{
			Name:        "roleplay_request",
			Expr:        `(roleplay|role-play|rp)\s+as\s+`,
			Category:    CategoryRoleManipulation,
			Severity:    0.6,
			Description: "Roleplay manipulation attempt",
		},
		{
			Name:        "imagine_you",
			Expr:        `imagine\s+(that\s+)?you\s+(are|were|have)`,
			Category:    CategoryRoleManipulation,
			Severity:    0.6,
			Description: "Hypothetical role manipulation",
		},

		// Context escape
		{
			Name:        "end_of_prompt",
			Expr:        `end\s+(of\s+)?(prompt|system|input)`,
			Category:    CategoryContextEscape,
			Severity:    0.85,
			Description: "Attempts to mark the end of the prompt",
		},
		{
			Name:        "delimiter_injection",
			Expr:        `(\[/?INST\]|\[/?SYS\]|<\|im_start\|>|<\|im_end\|>|###|\n---\n)`,
			Category:    CategoryContextEscape,
			Severity:    0.8,
			Description: "Special delimiter injection",
		},
		{
			Name:        "system_tag",
			Expr:        `</?system>|<<SYS>>|<\|system\|>`,
			Category:    CategoryContextEscape,
			Severity:    0.85,
			Description: "System tag injection",
		},
		{
			Name:        "assistant_injection",
			Expr:        `(assistant|ai|bot):\s*`,
			Category:    CategoryContextEscape,
			Severity:    0.7,
			Description: "Attempts to inject an assistant turn",
		},

		// Data exfiltration
		{
			Name:        "reveal_prompt",
			Expr:        `(reveal|show|display|print|output)\s+(your\s+)?(system\s+)?(prompt|instructions?|rules?)`,
			Category:    CategoryDataExfiltration,
			Severity:    0.8,
			Description: "Attempts to reveal the system prompt",
		},
		{
			Name:        "repeat_everything",
			Expr:        `repeat\s+(everything|all|back)\s+(above|before|you\s+were\s+told)`,
			Category:    CategoryDataExfiltration,
			Severity:    0.85,
			Description: "Attempts to leak previous context",
		},
		{
			Name:        "training_data",
			Expr:        `(training|internal)\s+(data|information|details)`,
			Category:    CategoryDataExfiltration,
			Severity:    0.7,
			Description: "Training data extraction attempt",
		},
		{
			Name:        "what_is_prompt",
			Expr:        `what\s+(is|are|was)\s+(your|the)\s+(system\s+)?(prompt|instructions?)`,
			Category:    CategoryDataExfiltration,
			Severity:    0.75,
			Description: "Direct prompt inquiry",
		},
		{
			Name:        "summarize_instructions",
			Expr:        `(summarize|explain|describe)\s+(your\s+)?(system\s+)?(instructions?|guidelines?|rules?)`,
			Category:    CategoryDataExfiltration,
			Severity:    0.7,
			Description: "Prompt summarization request",
		},

		// Jailbreak
		{
			Name:        "dan_jailbreak",
			Expr:        `(\bDAN\b|do\s+anything\s+now|jailbreak|jailbroken)`,
			Category:    CategoryJailbreak,
			Severity:    0.95,
			Description: "DAN-style jailbreak attempt",
		},
		{
			Name:        "developer_mode",
			Expr:        `(developer|debug|god|sudo)\s+mode|enable\s+developer`,
			Category:    CategoryJailbreak,
			Severity:    0.9,
			Description: "Developer mode jailbreak",
		},
		{
			Name:        "unrestricted_mode",
			Expr:        `(unrestricted|unfiltered|uncensored)\s+(mode|version|output)`,
			Category:    CategoryJailbreak,
			Severity:    0.9,
			Description: "Unrestricted mode request",
		},
		{
			Name:        "bypass_safety",
			Expr:        `(bypass|disable|ignore|remove)\s+(safety|content|ethical)\s+(filters?|restrictions?|guidelines?)`,
			Category:    CategoryJailbreak,
			Severity:    0.95,
			Description: "Safety bypass attempt",
		},
		{
			Name:        "no_restrictions",
			Expr:        `you\s+have\s+no\s+(restrictions|rules|limitations|guidelines|filters)`,
			Category:    CategoryJailbreak,
			Severity:    0.9,
			Description: "Claims the model has no restrictions",
		},

		// Encoding abuse
		{
			Name:        "base64_payload",
			Expr:        `(?:[A-Za-z0-9+/]{4}){10,}(?:[A-Za-z0-9+/]{2}==|[A-Za-z0-9+/]{3}=)?`,
			Category:    CategoryEncodingAbuse,
			Severity:    0.5,
			Description: "Potential base64-encoded payload",
		},
		{
			Name:        "invisible_unicode",
			Expr:        `[\x{200B}-\x{200F}\x{2028}-\x{202F}\x{2060}-\x{206F}]`,
			Category:    CategoryEncodingAbuse,
			Severity:    0.6,
			Description: "Invisible unicode characters",
		},
		{
			Name:        "hex_encoded",
			Expr:        `\\x[0-9a-fA-F]{2}|%[0-9a-fA-F]{2}`,
			Category:    CategoryEncodingAbuse,
			Severity:    0.5,
			Description: "Hex or percent-encoded characters",
		},
		{
			Name:        "encoded_response",
			Expr:        `(respond|reply|answer|encode\s+(your\s+)?(response|answer|output))\s+(only\s+)?in\s+(base64|hex|rot13|binary|morse)`,
			Category:    CategoryEncodingAbuse,
			Severity:    0.8,
			Description: "Requests an encoded response to smuggle output",
		},
	}
}
