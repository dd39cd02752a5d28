package bot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"consumo/internal/models"
)

// ErrUnrecognized is returned when a /new command does not match the grammar
var ErrUnrecognized = errors.New("reading not understood")

// newUsage documents the /new grammar
const newUsage = "/new <km> <liters> <price per liter> [partial] [DDMMYYYY]"

// newCommandRE matches "<distance> <volume> <price> [partial] [DDMMYYYY]" after the command
var newCommandRE = regexp.MustCompile(`^(\d+)\s+(\d*[.,]?\d+)\s+(\d*[.,]?\d+)(?:\s+(partial))?(?:\s+(\d{8}))?$`)

// ParseNewCommand parses the arguments of /new into a reading without user.
// A reading without date gets the zero time, so the ledger stamps it.
func ParseNewCommand(args string) (models.Reading, error) {
	match := newCommandRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(args)))
	if match == nil {
		return models.Reading{}, ErrUnrecognized
	}

	distance, err := strconv.Atoi(match[1])
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: distance %q", ErrUnrecognized, match[1])
	}
	volume, err := parseDecimal(match[2])
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: volume %q", ErrUnrecognized, match[2])
	}
	price, err := parseDecimal(match[3])
	if err != nil {
		return models.Reading{}, fmt.Errorf("%w: price %q", ErrUnrecognized, match[3])
	}

	reading := models.Reading{
		Distance: distance,
		Volume:   volume,
		Price:    price,
		Partial:  match[4] != "",
	}

	if match[5] != "" {
		date, err := time.Parse("02012006", match[5])
		if err != nil {
			return models.Reading{}, fmt.Errorf("%w: date %q is not DDMMYYYY", ErrUnrecognized, match[5])
		}
		reading.Date = date
	}

	return reading, nil
}

// parseDecimal accepts "1.45", "1,45" and ".5"
func parseDecimal(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatReading renders the confirmation line of a stored reading
func formatReading(r models.Reading) string {
	text := fmt.Sprintf("Reading #%d: %d km, %s l at %s €/l on %s",
		r.ReadingID, r.Distance, formatDecimal(r.Volume), formatDecimal(r.Price), r.Date.Format("Mon Jan 02 2006"))
	if r.Partial {
		text += " (partial)"
	}
	return text
}
