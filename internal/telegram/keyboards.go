package telegram

import (
	"fmt"

	"github.com/go-telegram/bot/models"
	"github.com/solgate/paywall-bot/internal/plans"
)

// MainKeyboard returns the main menu keyboard
func MainKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "💳 Register wallet", CallbackData: "register"},
				{Text: "⭐ Buy access", CallbackData: "plans"},
			},
			{
				{Text: "👤 My status", CallbackData: "status"},
			},
		},
	}
}

// PlansKeyboard returns one button per plan in the catalog
func PlansKeyboard(catalog plans.Catalog) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	for _, p := range catalog.List() {
		label := fmt.Sprintf("%s SOL / %s", plans.FormatSOL(p.PriceLamports), p.Label)
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: label, CallbackData: "plan:" + p.ID},
		})
	}

	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "⬅️ Back", CallbackData: "back"},
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// BackKeyboard returns a simple back button
func BackKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⬅️ Back", CallbackData: "back"},
			},
		},
	}
}
