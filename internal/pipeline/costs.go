package pipeline

import "storybook-server/internal/config"

// CostTable — фиксированные цены шагов в кредитах. Бизнес-константы,
// вынесены в конфигурацию.
type CostTable struct {
	Ideation    int64
	Structure   int64
	FrontCover  int64
	BackCover   int64
	PromptBuild int64
	PageImage   int64
}

func NewCostTable(cfg *config.Config) CostTable {
	return CostTable{
		Ideation:    int64(cfg.CostIdeation),
		Structure:   int64(cfg.CostStructure),
		FrontCover:  int64(cfg.CostFrontCover),
		BackCover:   int64(cfg.CostBackCover),
		PromptBuild: int64(cfg.CostPromptBuild),
		PageImage:   int64(cfg.CostPageImage),
	}
}

// TotalForFreshRun возвращает полную стоимость генерации истории с нуля:
// идея + структура + обе обложки с промптами + страницы с промптами.
func (c CostTable) TotalForFreshRun(length int) int64 {
	covers := (c.PromptBuild + c.FrontCover) + (c.PromptBuild + c.BackCover)
	pages := int64(length) * (c.PromptBuild + c.PageImage)
	return c.Ideation + c.Structure + covers + pages
}
