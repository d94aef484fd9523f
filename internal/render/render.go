// Package render builds the page description for one page load. It is pure:
// the same input always yields the same Page, and nothing here does I/O.
package render

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"giftvalue/internal/history"
	"giftvalue/internal/provider"
	"giftvalue/internal/recipient"
)

// View selects which layout the adapter draws.
type View string

const (
	// ViewGift shows one recipient's gift and its current value.
	ViewGift View = "gift"
	// ViewSelect lists recipients to choose from.
	ViewSelect View = "select"
	// ViewError is the reload prompt.
	ViewError View = "error"
)

// Placeholder is shown wherever a current price would appear but none exists.
const Placeholder = "Current price unavailable"

// ReloadPrompt is the catch-all message.
const ReloadPrompt = "Something went wrong. Please reload the page."

// Commodity describes what was gifted.
type Commodity struct {
	Name     string `json:"name"`     // e.g. silver
	Unit     string `json:"unit"`     // e.g. oz
	Currency string `json:"currency"` // ISO code, e.g. USD
}

// DefaultCommodity is silver priced in USD per troy ounce.
func DefaultCommodity() Commodity {
	return Commodity{Name: "silver", Unit: "oz", Currency: "USD"}
}

// Input is everything the page depends on.
type Input struct {
	Recipient *recipient.Record
	Choices   []recipient.Choice
	Series    history.Series
	Sample    *provider.Sample
	Commodity Commodity
	Now       time.Time
}

// Page is the description of the desired output.
type Page struct {
	View      View               `json:"view"`
	Title     string             `json:"title"`
	Headline  string             `json:"headline,omitempty"`
	Lines     []string           `json:"lines,omitempty"`
	Value     string             `json:"value,omitempty"`
	Change    string             `json:"change,omitempty"`
	Elapsed   string             `json:"elapsed,omitempty"`
	PriceNote string             `json:"price_note,omitempty"`
	Choices   []recipient.Choice `json:"choices,omitempty"`
	Chart     *Chart             `json:"chart,omitempty"`
}

// Chart is a line chart configuration.
type Chart struct {
	Type     string    `json:"type"`
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one line of the chart. Dashed lines are reference levels.
type Dataset struct {
	Label  string    `json:"label"`
	Data   []float64 `json:"data"`
	Dashed bool      `json:"dashed,omitempty"`
}

// Render returns the gift view for a known recipient and the selection view otherwise.
func Render(in Input) Page {
	if in.Commodity.Name == "" {
		in.Commodity = DefaultCommodity()
	}
	if in.Recipient == nil {
		return selectPage(in.Choices)
	}
	return giftPage(in)
}

// ErrorPage is the generic reload prompt.
func ErrorPage() Page {
	return Page{View: ViewError, Title: "Oops", Lines: []string{ReloadPrompt}}
}

func selectPage(choices []recipient.Choice) Page {
	p := Page{View: ViewSelect, Title: "Who is this gift for?", Choices: choices}
	if len(choices) == 0 {
		p.Lines = []string{"No recipients are configured yet."}
	} else {
		p.Lines = []string{"Pick your name below."}
	}
	return p
}

func giftPage(in Input) Page {
	r := in.Recipient
	c := in.Commodity
	elapsed := Elapsed(r.GiftDate, in.Now)
	qty := decimal.NewFromFloat(r.Quantity)
	initial := decimal.NewFromFloat(r.InitialPrice)

	p := Page{
		View:    ViewGift,
		Title:   fmt.Sprintf("A gift for %s", r.Recipient),
		Elapsed: elapsed,
		Headline: fmt.Sprintf("%s gave %s %s %s of %s %s.",
			r.Giver, r.Recipient, formatQty(r.Quantity), c.Unit, c.Name, elapsed),
	}
	p.Lines = append(p.Lines, fmt.Sprintf("Back then it was worth %s.", money(initial.Mul(qty), c.Currency)))

	if in.Sample == nil {
		p.Value = Placeholder
		p.PriceNote = Placeholder
		p.Lines = append(p.Lines, Placeholder+".")
	} else {
		s := in.Sample
		price := decimal.NewFromFloat(s.Price)
		p.Value = money(price.Mul(qty), c.Currency)
		p.Change = Change(r.InitialPrice, s.Price)
		if p.Change != "" {
			p.Lines = append(p.Lines, fmt.Sprintf("Today it is worth %s (%s).", p.Value, p.Change))
		} else {
			p.Lines = append(p.Lines, fmt.Sprintf("Today it is worth %s.", p.Value))
		}
		p.PriceNote = priceNote(*s, c)
	}

	p.Chart = chart(in.Series.Since(utcDay(r.GiftDate)), in.Sample, r.InitialPrice, c)
	return p
}

func priceNote(s provider.Sample, c Commodity) string {
	per := fmt.Sprintf("%s/%s", money(decimal.NewFromFloat(s.Price), c.Currency), c.Unit)
	if s.LastKnown {
		return fmt.Sprintf("Live prices are unavailable; showing the last known price of %s from %s.",
			per, s.Timestamp.UTC().Format(history.DateLayout))
	}
	return fmt.Sprintf("Live price %s from %s, updated %s.",
		per, s.Source, s.Timestamp.UTC().Format("2006-01-02 15:04 MST"))
}

// Change formats the percentage change from initial to current, e.g. "+12.5%".
// It is empty when the initial price is not positive.
func Change(initial, current float64) string {
	if initial <= 0 {
		return ""
	}
	i := decimal.NewFromFloat(initial)
	pct := decimal.NewFromFloat(current).Sub(i).Div(i).Mul(decimal.NewFromInt(100)).Round(1)
	s := pct.StringFixed(1)
	if pct.Sign() >= 0 {
		s = "+" + s
	}
	return s + "%"
}

// Elapsed describes how long ago from was, relative to now, in whole UTC days.
func Elapsed(from, now time.Time) string {
	days := daysBetween(from, now)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	case days < 30:
		return fmt.Sprintf("%d days ago", days)
	case days < 365:
		return plural(days/30, "month") + " ago"
	}
	years, months := days/365, (days%365)/30
	if months == 0 {
		return plural(years, "year") + " ago"
	}
	return plural(years, "year") + ", " + plural(months, "month") + " ago"
}

func daysBetween(from, now time.Time) int {
	return int(utcDay(now).Sub(utcDay(from)).Hours() / 24)
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func chart(series history.Series, s *provider.Sample, initial float64, c Commodity) *Chart {
	sorted := series.Sorted()
	labels := make([]string, 0, len(sorted)+1)
	prices := make([]float64, 0, len(sorted)+1)
	for _, p := range sorted {
		labels = append(labels, p.Date.Format(history.DateLayout))
		prices = append(prices, p.Price)
	}
	if s != nil && s.Live {
		labels = append(labels, "today")
		prices = append(prices, s.Price)
	}
	if len(labels) == 0 {
		return nil
	}

	datasets := []Dataset{{Label: fmt.Sprintf("Price (%s/%s)", c.Currency, c.Unit), Data: prices}}
	if initial > 0 {
		flat := make([]float64, len(labels))
		for i := range flat {
			flat[i] = initial
		}
		datasets = append(datasets, Dataset{Label: "Price when gifted", Data: flat, Dashed: true})
	}
	return &Chart{Type: "line", Labels: labels, Datasets: datasets}
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

func money(d decimal.Decimal, currency string) string {
	amount := d.StringFixed(2)
	if sym, ok := currencySymbols[strings.ToUpper(currency)]; ok {
		if strings.HasPrefix(amount, "-") {
			return "-" + sym + amount[1:]
		}
		return sym + amount
	}
	return amount + " " + strings.ToUpper(currency)
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}
