package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// 议事记录：将每一轮发言的完整 prompt/response 落盘，便于事后审计。

var (
	transcriptMu  sync.Mutex
	transcriptLog *log.Logger
)

func SetTranscriptWriter(w io.Writer) {
	transcriptMu.Lock()
	defer transcriptMu.Unlock()
	if w == nil {
		transcriptLog = nil
		return
	}
	transcriptLog = log.New(w, "", log.LstdFlags)
}

type transcriptSection struct {
	Title string
	Body  string
}

func logTranscript(kind, participant string, sections []transcriptSection) {
	transcriptMu.Lock()
	tl := transcriptLog
	transcriptMu.Unlock()
	if tl == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[议会]")
	if kind != "" {
		b.WriteString("[")
		b.WriteString(kind)
		b.WriteString("]")
	}
	if participant != "" {
		b.WriteString("[")
		b.WriteString(participant)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	tl.Print(b.String())
}

// LogTurnRequest 记录一次参与者调用的 system/user prompt。
func LogTurnRequest(kind, participant, systemPrompt, userPrompt string) {
	sections := []transcriptSection{
		{Title: "SYSTEM", Body: systemPrompt},
		{Title: "USER", Body: userPrompt},
	}
	logTranscript(kind+"-request", participant, sections)
}

// LogTurnResponse 记录参与者的原始返回。
func LogTurnResponse(kind, participant, raw string) {
	logTranscript(kind+"-response", participant, []transcriptSection{{Title: "RAW", Body: raw}})
}
