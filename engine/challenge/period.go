package challenge

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/emberworks/questengine/catalog"
)

// PeriodKey names the issuance window containing t, in UTC: a calendar date
// for DAILY, an ISO week for WEEKLY, a quarter for SEASONAL. Instances carry
// the key they were issued under; the rollover sweep retires any whose key no
// longer matches.
func PeriodKey(p catalog.Period, t time.Time) string {
	t = t.UTC()
	switch p {
	case catalog.PeriodDaily:
		return t.Format("2006-01-02")
	case catalog.PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case catalog.PeriodSeasonal:
		quarter := (int(t.Month())-1)/3 + 1
		return fmt.Sprintf("%d-Q%d", t.Year(), quarter)
	}
	return ""
}

// seed derives a deterministic sampling seed from the character and period
// window, so reissuing the same window always deals the same hand.
func seed(characterID int64, periodKey string, round int) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d", characterID, periodKey, round)
	return int64(h.Sum64())
}
