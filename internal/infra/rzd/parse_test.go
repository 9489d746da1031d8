package rzd

import (
	"strings"
	"testing"

	"rzd_seat_bot/internal/domain/availability"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trainPage = `<html><body>
<h1>Поезд 001М Москва - Казань</h1>
<div class="seat-offer"><span class="seat-type">Плацкарт</span><span class="state">Нет мест</span></div>
<div class="seat-offer"><span class="seat-type">Купе</span><span>верхние</span><span class="price">2800₽</span><span class="car-num">3</span><span class="seat-num">14</span></div>
<div class="seat-offer"><span class="seat-type">Купе</span><span>нижние</span><span class="price">3200₽</span><span class="car-num">5</span><span class="seat-num">12</span></div>
<div class="seat-offer"><span class="seat-type">СВ</span><span class="state">Забронировано</span></div>
</body></html>`

const searchPage = `<html><body>
<div class="train-item"><span class="train-number">001М</span><span class="departure-time">23:55</span><span class="arrival-time">11:50</span><span class="duration">11 ч 55 мин</span></div>
<div class="train-item"><span class="train-number">Поезд 752А «Сапсан»</span><span class="departure-time">06:45</span></div>
<div class="train-item"><span class="train-number">001М</span></div>
<div class="train-item"><span>Пригородный</span></div>
</body></html>`

func mustDoc(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestParseSeats_OfferBlocks(t *testing.T) {
	tests := []struct {
		name     string
		class    string
		berth    string
		expected availability.Verdict
	}{
		{
			name:     "compartment lower",
			class:    "купе",
			berth:    "нижняя",
			expected: availability.Verdict{Available: true, Price: "3200₽", CarNumber: "5", SeatNumber: "12"},
		},
		{
			name:     "compartment upper",
			class:    "купе",
			berth:    "верхняя",
			expected: availability.Verdict{Available: true, Price: "2800₽", CarNumber: "3", SeatNumber: "14"},
		},
		{
			name:     "compartment any berth takes the first offer",
			class:    "купе",
			berth:    "любая",
			expected: availability.Verdict{Available: true, Price: "2800₽", CarNumber: "3", SeatNumber: "14"},
		},
		{
			name:     "sold out class",
			class:    "плацкарт",
			berth:    "любая",
			expected: availability.Verdict{Available: false},
		},
		{
			name:     "booked class",
			class:    "св",
			berth:    "любая",
			expected: availability.Verdict{Available: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseSeats(mustDoc(t, trainPage), tt.class, tt.berth)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *verdict)
		})
	}
}

func TestParseSeats_PageWording(t *testing.T) {
	tests := []struct {
		name      string
		page      string
		available bool
		wantErr   error
	}{
		{
			name:      "sold out wording",
			page:      `<html><body><p>К сожалению, мест нет</p></body></html>`,
			available: false,
		},
		{
			name:      "in stock wording",
			page:      `<html><body><p>Есть места</p></body></html>`,
			available: true,
		},
		{
			name:    "unrecognised page",
			page:    `<html><body><p>Технические работы</p></body></html>`,
			wantErr: availability.ErrNoData,
		},
		{
			name:    "unrelated card markup",
			page:    `<html><body><div class="card">Популярные направления</div><div class="carousel">Акции</div></body></html>`,
			wantErr: availability.ErrNoData,
		},
		{
			name:      "unrelated card markup with sold out wording",
			page:      `<html><body><div class="card">Популярные направления</div><p>Билетов нет</p></body></html>`,
			available: false,
		},
		{
			name:    "empty page",
			page:    ``,
			wantErr: availability.ErrNoData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict, err := parseSeats(mustDoc(t, tt.page), "купе", "любая")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, verdict)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.available, verdict.Available)
		})
	}
}

func TestOfferMatches(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		class    string
		berth    string
		expected bool
	}{
		{"class word", "Купе 3200₽", "купе", "любая", true},
		{"class stem", "Плацкартный вагон", "плацкарт", "любая", true},
		{"sleeper must be a whole word", "Свободно купе", "св", "любая", false},
		{"sleeper word", "СВ 9000₽", "св", "любая", true},
		{"berth ignored outside compartment", "Плацкарт", "плацкарт", "нижняя", true},
		{"berth required for compartment", "Купе верхние", "купе", "нижняя", false},
		{"taken", "Купе нижние занято", "купе", "нижняя", false},
		{"unknown class", "Купе", "люкс", "любая", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, offerMatches(tt.text, tt.class, tt.berth))
		})
	}
}

func TestParseTrains(t *testing.T) {
	trains := parseTrains(mustDoc(t, searchPage))

	require.Len(t, trains, 2)
	assert.Equal(t, availability.Train{
		Number:        "001М",
		DepartureTime: "23:55",
		ArrivalTime:   "11:50",
		Duration:      "11 ч 55 мин",
	}, trains[0])
	assert.Equal(t, "752А", trains[1].Number)
	assert.Equal(t, "06:45", trains[1].DepartureTime)
}

func TestParseTrains_NoBlocks(t *testing.T) {
	assert.Empty(t, parseTrains(mustDoc(t, `<html><body>Ничего не найдено</body></html>`)))
}

func TestSpacedText(t *testing.T) {
	doc := mustDoc(t, `<div id="x"><span>Купе</span><span>нижние</span> <b> 5 </b></div>`)
	assert.Equal(t, "Купе нижние 5", spacedText(doc.Find("#x")))
}
