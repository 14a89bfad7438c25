package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/cooldog631-ai/aim-bot/internal/report"
)

var fieldHints = map[string]string{
	report.FieldDate:            "дата выполнения работ в формате ДД.ММ.ГГГГ",
	report.FieldEquipmentNumber: "номер техники, например K-101",
	report.FieldBrigadeNumber:   "номер бригады, например B-3",
	report.FieldWorkDescription: "краткое описание выполненных работ",
}

func describeFields(set report.FieldSet) string {
	var b strings.Builder
	for _, n := range set.Names() {
		hint := fieldHints[n]
		if hint == "" {
			hint = report.Label(n)
		}
		fmt.Fprintf(&b, "- %s: %s\n", n, hint)
	}
	return b.String()
}

func systemPrompt(set report.FieldSet, today time.Time) string {
	return fmt.Sprintf(`Ты извлекаешь данные полевого отчёта из расшифровки голосового сообщения рабочего.
Сегодня %s. Слова "сегодня" и "вчера" переводи в конкретную дату.

Поля:
%s
Верни только JSON-объект вида {"extracted_data": {"<поле>": "<значение>"}}.
Включай только поля, значения которых прямо названы в тексте. Ничего не придумывай.
Если значение не названо, не включай поле или оставь пустую строку.`,
		today.Format(report.DateLayout), describeFields(set))
}

func extractPrompt(transcript string) string {
	return "Расшифровка:\n" + transcript
}

func mergePrompt(partial report.Fields, set report.FieldSet, transcript string) string {
	var b strings.Builder
	b.WriteString("Уже известные данные отчёта:\n")
	for _, n := range set.Names() {
		if v := partial[n]; v != "" {
			fmt.Fprintf(&b, "- %s: %s\n", n, v)
		}
	}
	b.WriteString("\nНовое сообщение пользователя (уточнение или исправление):\n")
	b.WriteString(transcript)
	b.WriteString("\n\nВерни только те поля, которые названы в новом сообщении.")
	return b.String()
}
