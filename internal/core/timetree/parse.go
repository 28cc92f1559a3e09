package timetree

import (
	"regexp"
	"strings"

	"github.com/agenthands/mnemo/internal/core/model"
)

// levelKind orders the hierarchy from coarse to granular. Day and weekday are
// alternatives at the same depth.
type levelKind string

const (
	levelYear    levelKind = "year"
	levelMonth   levelKind = "month"
	levelDay     levelKind = "day"
	levelWeekday levelKind = "weekday"
	levelHour    levelKind = "hour"
	levelSubHour levelKind = "subhour"
)

// level is one node of the parsed chain. Name is the unit text at that depth
// ("3月"); Text is the canonical time string stored on the node, which for
// static expressions accumulates every coarser unit ("2024年3月").
type level struct {
	kind levelKind
	name string
	text string
}

var (
	yearPattern    = regexp.MustCompile(`(\d{4})年`)
	monthPattern   = regexp.MustCompile(`(\d{1,2})月`)
	dayPattern     = regexp.MustCompile(`(\d{1,2})日`)
	weekdayPattern = regexp.MustCompile(`第(\d{1,2})周星期([一二三四五六日天])`)
	hourPattern    = regexp.MustCompile(`(\d{1,2})点`)
)

// parse extracts the hierarchy levels from a temporal expression. The second
// return is the time classification: expressions without a year are recurring
// ("every March 15th") and each level keeps only its own unit text; with a
// year they are static and texts accumulate.
func parse(expr string) ([]level, string) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ""
	}

	var units []level

	if m := yearPattern.FindStringSubmatch(expr); m != nil {
		units = append(units, level{kind: levelYear, name: m[1] + "年"})
	}
	if m := monthPattern.FindStringSubmatch(expr); m != nil {
		units = append(units, level{kind: levelMonth, name: m[1] + "月"})
	}
	// Day-of-month and weekday-of-month are mutually exclusive branches; a
	// day marker wins and the weekday form is not attempted.
	if m := dayPattern.FindStringSubmatch(expr); m != nil {
		units = append(units, level{kind: levelDay, name: m[1] + "日"})
	} else if m := weekdayPattern.FindStringSubmatch(expr); m != nil {
		units = append(units, level{kind: levelWeekday, name: "第" + m[1] + "周星期" + m[2]})
	}
	if m := hourPattern.FindStringSubmatchIndex(expr); m != nil {
		units = append(units, level{kind: levelHour, name: expr[m[2]:m[3]] + "点"})
		if rest := strings.TrimSpace(expr[m[1]:]); rest != "" {
			units = append(units, level{kind: levelSubHour, name: rest})
		}
	}

	if len(units) == 0 {
		return nil, ""
	}

	timeType := model.TimeTypeRecurring
	if units[0].kind == levelYear {
		timeType = model.TimeTypeStatic
	}

	accumulated := ""
	for i := range units {
		if timeType == model.TimeTypeStatic {
			accumulated += units[i].name
			units[i].text = accumulated
		} else {
			units[i].text = units[i].name
		}
	}

	return units, timeType
}

// hierarchyType names the BELONGS_TO edge between a child level and its
// parent, e.g. month_to_year or hour_to_weekday.
func hierarchyType(child, parent level) string {
	return string(child.kind) + "_to_" + string(parent.kind)
}
