package scheduler

import (
	"time"

	"github.com/ignite/outreach-engine/internal/domain"
)

// Window is a campaign's sending window resolved into its timezone: the
// enabled weekdays and an inclusive [start, end] time-of-day range.
type Window struct {
	loc   *time.Location
	days  [7]bool
	start int // minutes after local midnight
	end   int
}

// NewWindow validates settings and resolves the timezone.
func NewWindow(s domain.CampaignSettings) (*Window, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	loc, _ := s.Location()
	start, _ := domain.ParseClock(s.SendingStartTime)
	end, _ := domain.ParseClock(s.SendingEndTime)
	w := &Window{loc: loc, start: start, end: end}
	for _, d := range s.SendingDays {
		w.days[d] = true
	}
	return w, nil
}

// Location is the campaign timezone.
func (w *Window) Location() *time.Location { return w.loc }

// Contains reports whether t falls on an enabled local day inside the
// window. The window closes at the end time itself: with a 17:00 end,
// 17:00:00 is inside and 17:00:01 is not.
func (w *Window) Contains(t time.Time) bool {
	lt := t.In(w.loc)
	if !w.days[lt.Weekday()] {
		return false
	}
	sec := lt.Hour()*3600 + lt.Minute()*60 + lt.Second()
	if sec == w.end*60 && lt.Nanosecond() > 0 {
		return false
	}
	return sec >= w.start*60 && sec <= w.end*60
}

// NextOpening returns t when it is inside the window, otherwise the first
// window start after t.
func (w *Window) NextOpening(t time.Time) time.Time {
	if w.Contains(t) {
		return t
	}
	lt := t.In(w.loc)
	if w.days[lt.Weekday()] && lt.Hour()*60+lt.Minute() < w.start {
		return w.opening(lt)
	}
	return w.NextDayOpening(t)
}

// NextDayOpening returns the window start on the first enabled local day
// strictly after the day containing t.
func (w *Window) NextDayOpening(t time.Time) time.Time {
	lt := t.In(w.loc)
	for i := 1; i <= 7; i++ {
		d := time.Date(lt.Year(), lt.Month(), lt.Day()+i, 0, 0, 0, 0, w.loc)
		if w.days[d.Weekday()] {
			return w.opening(d)
		}
	}
	// unreachable: NewWindow requires at least one enabled day
	return w.opening(time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, w.loc))
}

// DayBounds returns the local calendar day containing t as [start, end).
func (w *Window) DayBounds(t time.Time) (time.Time, time.Time) {
	lt := t.In(w.loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, w.loc)
	end := time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, w.loc)
	return start, end
}

func (w *Window) opening(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), w.start/60, w.start%60, 0, 0, w.loc)
}
