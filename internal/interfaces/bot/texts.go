package bot

import (
	"fmt"

	"github.com/imagebot/backend/internal/domain/payment"
)

const (
	textStart = "Привет! Я бот для удаления фона на фотографиях. " +
		"Загрузите фото, и я обработаю его бесплатно (с водяными знаками). " +
		"Если понравится, оплатите полную версию без водяных знаков!"

	textProcessingPhoto    = "⏳ Обрабатываю изображение... Это может занять до 1 минуты."
	textProcessingDocument = "⏳ Обрабатываю файл... Это может занять до 1 минуты."

	textBadPhotoFormat = "❌ Неверный формат фото. Попробуйте JPEG или PNG."
	textBadFileFormat  = "❌ Неверный формат файла. Попробуйте JPEG или PNG."
	textNotAnImage     = "❌ Файл не является изображением."
	textFileTooLarge   = "❌ Файл слишком большой. Максимальный размер: 20 МБ."
	textPhotoFailed    = "❌ Ошибка при обработке фото. Попробуйте другую фотографию."
	textFileFailed     = "❌ Ошибка при обработке файла. Попробуйте снова."
	textSessionReset   = "🔄 Все изображения сброшены. Отправьте новую фотографию."
	textInvoiceExpired = "⌛ Время на оплату истекло."
	textSomethingWrong = "❌ Что-то пошло не так. Попробуйте позже."
	textUnknownMessage = "📸 Отправьте фотографию, и я удалю с неё фон."
)

func supportText(username string) string {
	return fmt.Sprintf("📩 Отправьте фотографию в поддержку %s и опишите проблему. Мы поможем!", username)
}

func statsText(s *payment.UserStats) string {
	return fmt.Sprintf("📊 Статистика пользователей\n\n"+
		"Новых сегодня: %d\n"+
		"Новых вчера: %d\n"+
		"Всего: %d", s.NewToday, s.NewYesterday, s.Total)
}
