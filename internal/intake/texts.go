package intake

import (
	"fmt"
	"strings"

	"github.com/cooldog631-ai/aim-bot/internal/gateway"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
	"github.com/cooldog631-ai/aim-bot/internal/report"
)

// Button payloads. Adapters deliver a pressed button as a text event
// carrying one of these.
const (
	ActionConfirm = "confirm_report"
	ActionEdit    = "edit_report"
	ActionCancel  = "cancel_report"
)

const (
	textVoiceAck          = "🎤 Получил голосовое сообщение, обрабатываю..."
	textMediaFailed       = "❌ Не удалось получить голосовое сообщение. Попробуй еще раз."
	textTransient         = "⏳ Сервис распознавания сейчас недоступен. Попробуй отправить сообщение еще раз через минуту."
	textPermanent         = "❌ Не получилось обработать сообщение: %s\n\nЗапиши голосовое еще раз или отправь отчет текстом."
	textMalformed         = "🤔 Не удалось разобрать отчет. Повтори, пожалуйста, голосом или текстом."
	textCorrectionUnclear = "🤔 Не удалось разобрать исправление, отчет не изменился.\n\n"
	textPhoto             = "📷 Фото пока не поддерживаются. Отправь отчет голосовым или текстовым сообщением."
	textEmpty             = "Сообщение пустое. Отправь отчет голосом или текстом."
	textNothingToSave     = "Нет отчета, ожидающего подтверждения. Отправь голосовое сообщение с отчетом."
	textStillMissing      = "Отчет еще не готов. Не хватает: %s."
	textSaved             = "✅ Отчет #%d сохранен!\n\nМожешь отправить следующий отчет."
	textStorageFailed     = "❌ Не удалось сохранить отчет. Черновик сохранен, попробуй подтвердить еще раз."
	textEditPrompt        = "✏️ Что нужно исправить? Отправь исправление голосом или текстом.\n\nТекущий отчет:\n%s"
	textNothingToEdit     = "Сейчас нечего исправлять. Отправь голосовое сообщение с отчетом."
	textCancelled         = "🚫 Отчет отменен. Можешь начать заново, отправив голосовое сообщение."
	textNothingToCancel   = "Нет активного отчета."
	textExpired           = "⌛ Черновик отчета удален из-за отсутствия активности. Отправь отчет заново."
	textUnknownCommand    = "🤔 Я не понял эту команду.\n\nОтправь голосовое сообщение для создания отчета или используй /help для справки."
)

var confirmWords = []string{"да", "yes", "ok", "ок", "подтвердить", "подтверждаю", "confirm"}
var editWords = []string{"исправить", "изменить", "edit"}
var cancelWords = []string{"отмена", "отменить", "cancel", "стоп"}

// ConfirmKeyboard is attached to the draft summary.
func ConfirmKeyboard() *messenger.Keyboard {
	return &messenger.Keyboard{Rows: [][]messenger.Button{
		{{Label: "✅ Подтвердить", Data: ActionConfirm}, {Label: "✏️ Исправить", Data: ActionEdit}},
		{{Label: "🚫 Отменить", Data: ActionCancel}},
	}}
}

func draftText(d report.Draft) string {
	return "✅ Отчет обработан!\n\n" + d.Summary() +
		"\n\nВсе верно? Ответь «да» для подтверждения или «исправить» для изменений."
}

// clarificationText asks for the missing fields, listed in field set order.
func clarificationText(missing []string) string {
	var b strings.Builder
	b.WriteString("📝 Спасибо! Мне нужна еще пара деталей:\n\n")
	for _, name := range missing {
		fmt.Fprintf(&b, "• %s\n", report.Label(name))
	}
	b.WriteString("\nОтветь голосовым или текстовым сообщением.")
	return b.String()
}

func labels(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = report.Label(n)
	}
	return strings.Join(out, ", ")
}

// failureText turns a gateway error into the user-facing reply.
func failureText(err error) string {
	if gateway.IsPermanent(err) {
		return fmt.Sprintf(textPermanent, userReason(err))
	}
	return textTransient
}

func userReason(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported"):
		return "неподдерживаемый формат аудио"
	case strings.Contains(msg, "empty"):
		return "пустое сообщение"
	case strings.Contains(msg, "no speech"):
		return "речь не распознана"
	default:
		return "сервис отклонил запрос"
	}
}
