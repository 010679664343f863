package model

import "time"

// OutlierRecord は急成長または低飽和のHot Sale商品として検出された商品を表す。
// RawProductと算出した成長率から生成され、生成後は変更しない。
type OutlierRecord struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	ImageURL           string    `json:"imageUrl"`
	ProductURL         string    `json:"productUrl"`
	PriceBRL           float64   `json:"priceBrl"`
	ReviewCount        int       `json:"reviewCount"`
	ReviewGrowthWeekly float64   `json:"reviewGrowthWeekly"` // 小数第2位で丸めた値
	Tags               []string  `json:"tags"`
	Justification      string    `json:"justification"`
	CollectedAt        time.Time `json:"collectedAt"`
	Category           string    `json:"category"`
}
