package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

// infoCommands are answered without touching the session.
var infoCommands = []string{"start", "help", "report", "my_reports"}

const helpText = `📚 Доступные команды:

/start - Начало работы
/help - Эта справка
/report - Отправить отчет
/my_reports [today|yesterday|week|month] - Мои отчеты за период
/cancel - Отменить текущий отчет

🎤 Голосовые отчеты:
Просто отправь голосовое сообщение с описанием работы.`

// HandleCommand answers the informational commands.
func (p *Pipeline) HandleCommand(ctx context.Context, port messenger.Port, ev messenger.Event) error {
	switch ev.Command {
	case "start":
		return p.reply(ctx, port, ev.Identity, p.welcomeText(ev.UserName), nil)
	case "help":
		return p.reply(ctx, port, ev.Identity, helpText, nil)
	case "report":
		return p.reply(ctx, port, ev.Identity, p.reportHint(), nil)
	case "my_reports":
		return p.myReports(ctx, port, ev)
	}
	return nil
}

func (p *Pipeline) welcomeText(name string) string {
	if name == "" {
		name = "друг"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "👋 Привет, %s!\n\n", name)
	b.WriteString("Я помогу быстро отправлять отчеты голосом.\n\n")
	b.WriteString("🎤 Как это работает:\n")
	b.WriteString("1. Запиши голосовое сообщение с отчетом\n")
	b.WriteString("2. Я распознаю его и проверю на полноту\n")
	b.WriteString("3. Если чего-то не хватает, попрошу уточнить\n")
	b.WriteString("4. Ты подтверждаешь, я сохраняю отчет\n\n")
	b.WriteString(p.requiredList())
	b.WriteString("\nКоманда /help покажет все команды.")
	return b.String()
}

func (p *Pipeline) reportHint() string {
	return "🎤 Запиши голосовое сообщение или напиши отчет текстом.\n\n" + p.requiredList()
}

func (p *Pipeline) requiredList() string {
	var b strings.Builder
	b.WriteString("📝 Обязательные данные в отчете:\n")
	for _, n := range p.fields.Names() {
		fmt.Fprintf(&b, "• %s\n", report.Label(n))
	}
	return b.String()
}

// reportPeriod resolves a /my_reports argument to a date range ending
// today. Unknown arguments fall back to the last week.
func reportPeriod(arg string, now time.Time) (from, to time.Time, title string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "today", "сегодня":
		return today, today, "сегодня"
	case "yesterday", "вчера":
		y := today.AddDate(0, 0, -1)
		return y, y, "вчера"
	case "month", "месяц":
		return today.AddDate(0, 0, -29), today, "за 30 дней"
	default:
		return today.AddDate(0, 0, -6), today, "за неделю"
	}
}

func (p *Pipeline) myReports(ctx context.Context, port messenger.Port, ev messenger.Event) error {
	from, to, title := reportPeriod(ev.Args, p.now())
	records, err := p.sink.ListRecent(ctx, ev.Identity, from, to)
	if err != nil {
		p.log.Warn("intake: list reports failed",
			"platform", ev.Identity.Platform,
			"user_id", ev.Identity.UserID,
			"error", err,
		)
		return p.reply(ctx, port, ev.Identity, "❌ Не удалось загрузить отчеты. Попробуй позже.", nil)
	}
	if len(records) == 0 {
		return p.reply(ctx, port, ev.Identity, fmt.Sprintf("📭 Отчетов %s нет.", title), nil)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Отчеты %s: %d\n", title, len(records))
	for _, r := range records {
		fmt.Fprintf(&b, "\n#%d · %s\n", r.ID, r.ReportDate.Format(report.DateLayout))
		for _, n := range p.fields.Names() {
			if n == report.FieldDate {
				continue
			}
			if v := r.Fields[n]; v != "" {
				fmt.Fprintf(&b, "%s: %s\n", report.Label(n), v)
			}
		}
	}
	return p.reply(ctx, port, ev.Identity, strings.TrimRight(b.String(), "\n"), nil)
}
