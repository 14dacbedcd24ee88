package chat

import (
	"strings"
	"unicode"
)

// Category 是规则回复的关键词类别。
type Category string

const (
	CategoryGreeting Category = "greeting"
	CategoryHelp     Category = "help"
	CategoryThanks   Category = "thanks"
	CategoryDefault  Category = "default"
)

type keywordRule struct {
	category Category
	keywords []string
}

// 顺序即优先级。拉丁字母关键词按整词匹配，"hi" 不会命中 "this"。
var keywordRules = []keywordRule{
	{CategoryGreeting, []string{"привет", "здравствуй", "добро пожаловать", "hello", "hi"}},
	{CategoryHelp, []string{"помощь", "помоги", "что умеешь", "возможности", "help"}},
	{CategoryThanks, []string{"спасибо", "благодарю", "thank"}},
}

var fallbackReplies = map[Category][2]string{
	CategoryGreeting: {
		"Здравствуйте! Я ИИ помощник. Чем могу помочь?",
		"Hello! I'm an AI assistant. How can I help you?",
	},
	CategoryHelp: {
		"Я могу помочь найти информацию на сайте и в его документах, ответить на вопросы и предоставить релевантную информацию. Просто задайте свой вопрос!",
		"I can help you find information on this site and in its documents. Just ask your question!",
	},
	CategoryThanks: {
		"Пожалуйста! Рад помочь. Если у вас есть еще вопросы, обращайтесь!",
		"You're welcome! Feel free to ask if you have more questions.",
	},
	CategoryDefault: {
		"Я понял ваш вопрос, но не смог найти точную информацию в базе знаний. Попробуйте переформулировать вопрос.",
		"I understood your question but couldn't find precise information in the knowledge base. Please try rephrasing it.",
	},
}

// Classify 返回消息命中的第一个关键词类别。
func Classify(message string) Category {
	lower := strings.ToLower(message)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if isCyrillic(kw) {
				if strings.Contains(lower, kw) {
					return rule.category
				}
				continue
			}
			for _, w := range words {
				if w == kw || (kw == "thank" && strings.HasPrefix(w, kw)) {
					return rule.category
				}
			}
		}
	}
	return CategoryDefault
}

// FallbackReply 生成确定性的规则回复，问题含西里尔字母时用俄语回答。
func FallbackReply(message string) string {
	replies := fallbackReplies[Classify(message)]
	if isCyrillic(message) {
		return replies[0]
	}
	return replies[1]
}

func isCyrillic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			return true
		}
	}
	return false
}
