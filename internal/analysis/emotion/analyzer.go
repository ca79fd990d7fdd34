package emotion

import (
	"strings"
)

// Label 表示回复携带的情绪标签，供前端驱动表情与语气。
type Label string

const (
	Neutral   Label = "neutral"
	Happy     Label = "happy"
	Sad       Label = "sad"
	Angry     Label = "angry"
	Surprised Label = "surprised"
	Caring    Label = "caring"
	Serious   Label = "serious"
)

// Tag 是情绪识别结果。Intensity 取值范围为 [0,1]。
type Tag struct {
	Emotion   Label
	Intensity float64
	Score     int
}

// labelOrder 固定打分时的遍历顺序，保证同分时结果稳定。
var labelOrder = []Label{Happy, Sad, Angry, Surprised, Caring, Serious}

var keywordBuckets = map[Label][]string{
	Happy: {
		"happy", "glad", "great", "awesome", "amazing", "wonderful", "love", "thanks", "thank you",
		"haha", "lol", "nice", "delighted", "开心", "高兴", "太好了", "哈哈", "喜欢",
	},
	Sad: {
		"sad", "unhappy", "sorry to hear", "cry", "depressed", "lonely", "upset", "hurt", "miss you",
		"disappointed", "难过", "伤心", "失落", "孤单", "失望",
	},
	Angry: {
		"angry", "furious", "mad", "annoyed", "hate", "fed up", "outrage", "生气", "愤怒", "受够了",
	},
	Surprised: {
		"wow", "really?", "no way", "unbelievable", "incredible", "can't believe", "surprise",
		"哇", "真的吗", "不敢相信",
	},
	Caring: {
		"don't worry", "it's okay", "i understand", "i'm here", "take care", "calm down", "breathe",
		"you're safe", "take it easy", "别担心", "没事", "我懂", "陪着", "安心",
	},
	Serious: {
		"important", "must", "critical", "serious", "careful", "remember", "warning", "重要", "务必", "记住",
	},
}

// Analyze 根据用户问题与机器人回复推断回复的情绪。
// 回复本身缺少情绪时，按用户情绪映射出共情的回应。
func Analyze(question, answer string) Tag {
	answerTag := scoreText(answer)
	if answerTag.Score == 0 {
		if userTag := scoreText(question); userTag.Score > 0 {
			answerTag = mirror(userTag)
		}
	}
	if answerTag.Score == 0 {
		return Tag{Emotion: Neutral}
	}

	intensity := 0.3 + float64(answerTag.Score)/20
	switch answerTag.Emotion {
	case Caring, Serious:
		intensity = min(intensity, 0.7)
	case Surprised:
		intensity += 0.1
	}
	answerTag.Intensity = max(0, min(1, intensity))
	return answerTag
}

// Detect 只识别文本本身的情绪，不做共情映射。
func Detect(text string) Tag {
	return scoreText(text)
}

func scoreText(text string) Tag {
	normalized := strings.TrimSpace(strings.ToLower(text))
	if normalized == "" {
		return Tag{Emotion: Neutral}
	}

	scores := make(map[Label]int)
	for label, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[label] += 3
			}
		}
	}
	if n := strings.Count(text, "!"); n > 0 {
		scores[Surprised] += n
		scores[Happy] += 1
	}

	best, bestScore := Neutral, 0
	for _, label := range labelOrder {
		if scores[label] > bestScore {
			best, bestScore = label, scores[label]
		}
	}
	return Tag{Emotion: best, Score: bestScore}
}

func mirror(user Tag) Tag {
	switch user.Emotion {
	case Sad:
		return Tag{Emotion: Caring, Score: user.Score}
	case Angry:
		return Tag{Emotion: Serious, Score: user.Score}
	default:
		return user
	}
}
