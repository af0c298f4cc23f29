package appointment

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func clocks(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.String()+"-"+s.End.String())
	}
	return out
}

func TestSlotsForDay_DefaultTemplate(t *testing.T) {
	tpl := DefaultDayTemplate()

	assert.Equal(t, []string{
		"08:00-09:00", "09:00-10:00", "10:00-11:00", "11:00-12:00",
		"14:00-15:00", "15:00-16:00", "16:00-17:00",
	}, clocks(tpl.SlotsForDay(60)))

	assert.Len(t, tpl.SlotsForDay(30), 14)
}

func TestSlotsForDay_DropsSlotsPastWindowEnd(t *testing.T) {
	tpl := DefaultDayTemplate()

	// 4h morning fits two 90 min slots, 3h afternoon fits two.
	assert.Equal(t, []string{
		"08:00-09:30", "09:30-11:00",
		"14:00-15:30", "15:30-17:00",
	}, clocks(tpl.SlotsForDay(90)))

	assert.Equal(t, []string{"08:00-12:00"}, clocks(tpl.SlotsForDay(240)))
	assert.Empty(t, tpl.SlotsForDay(300))
}

func TestSlotsForDay_NonPositiveDuration(t *testing.T) {
	tpl := DefaultDayTemplate()

	assert.NotNil(t, tpl.SlotsForDay(0))
	assert.Empty(t, tpl.SlotsForDay(0))
	assert.Empty(t, tpl.SlotsForDay(-15))
}

func TestSlotsForDay_Deterministic(t *testing.T) {
	tpl := DefaultDayTemplate()
	assert.Equal(t, tpl.SlotsForDay(45), tpl.SlotsForDay(45))
}

func TestParseDayTemplate(t *testing.T) {
	tpl, err := ParseDayTemplate(" 14:00-17:00 , 08:00-12:00 ")
	require.NoError(t, err)
	assert.Equal(t, DefaultDayTemplate(), tpl)

	bad := []string{
		"",
		"08:00",
		"08:00-07:00",
		"08:00-12:00,11:00-13:00",
		"8am-noon",
	}
	for _, hours := range bad {
		t.Run(hours, func(t *testing.T) {
			_, err := ParseDayTemplate(hours)
			assert.Error(t, err)
		})
	}
}

func TestSlotOn(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	day, err := ParseDate("2026-03-12", loc)
	require.NoError(t, err)

	start, end := Slot{Start: mustClock("10:00"), End: mustClock("11:00")}.On(day)
	assert.Equal(t, time.Date(2026, 3, 12, 10, 0, 0, 0, loc), start)
	assert.Equal(t, time.Date(2026, 3, 12, 11, 0, 0, 0, loc), end)
}

func TestDayStart(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 20:00 UTC is already the next day in India.
	got := DayStart(time.Date(2026, 3, 11, 20, 0, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 3, 12, 0, 0, 0, 0, loc), got)
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "08:05", Clock(8*60+5).String())
	_, err := ParseClock("25:00")
	assert.Error(t, err)
}
