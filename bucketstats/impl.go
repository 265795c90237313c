// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package bucketstats

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"
)

var (
	pkgNameToGroupName map[string]map[string]interface{}
	statsNameMapLock   sync.Mutex
)

var (
	totalType           = reflect.TypeOf(Total{})
	averageType         = reflect.TypeOf(Average{})
	bucketLog2RoundType = reflect.TypeOf(BucketLog2Round{})
)

func isStatType(fieldType reflect.Type) bool {
	return (totalType == fieldType) || (averageType == fieldType) || (bucketLog2RoundType == fieldType)
}

func structValue(statsGroupName string, statsStruct interface{}) (structAsValue reflect.Value) {
	if (reflect.Ptr != reflect.TypeOf(statsStruct).Kind()) ||
		(reflect.Struct != reflect.ValueOf(statsStruct).Elem().Type().Kind()) {
		panic(fmt.Sprintf("statsStruct for statistics group '%s' is (%s), should be (*struct)",
			statsGroupName, reflect.TypeOf(statsStruct)))
	}

	structAsValue = reflect.ValueOf(statsStruct).Elem()

	return
}

// register finds all the statistics fields in statsStruct, names those that
// lack a Name, verifies each name is only used once and records the group.
//
func register(pkgName string, statsGroupName string, statsStruct interface{}) {
	if ("" == pkgName) && ("" == statsGroupName) {
		panic("statistics group must have non-empty pkgName or statsGroupName")
	}

	structAsValue := structValue(statsGroupName, statsStruct)
	structAsType := structAsValue.Type()

	names := make(map[string]struct{})

	for i := 0; i < structAsType.NumField(); i++ {
		fieldName := structAsType.Field(i).Name
		fieldAsValue := structAsValue.Field(i)

		if !isStatType(structAsType.Field(i).Type) {
			continue
		}

		if !fieldAsValue.CanSet() {
			panic(fmt.Sprintf("statistics group '%s' field %s must be exported to be usable by bucketstats",
				statsGroupName, fieldName))
		}

		statNameValue := fieldAsValue.FieldByName("Name")
		if "" == statNameValue.String() {
			statNameValue.SetString(fieldName)
		} else {
			statNameValue.SetString(scrubName(statNameValue.String()))
		}

		if _, ok := names[statNameValue.String()]; ok {
			panic(fmt.Sprintf("stats '%s' field %s Name '%s' is already in use",
				statsGroupName, fieldName, statNameValue))
		}
		names[statNameValue.String()] = struct{}{}

		if v, ok := fieldAsValue.Addr().Interface().(*BucketLog2Round); ok {
			if (0 == v.NBucket) || (v.NBucket > uint(len(v.statBuckets))) {
				v.NBucket = uint(len(v.statBuckets))
			} else if 10 > v.NBucket {
				v.NBucket = 10
			}
		}
	}

	statsGroupName = scrubName(statsGroupName)
	pkgName = scrubName(pkgName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if nil == pkgNameToGroupName {
		pkgNameToGroupName = make(map[string]map[string]interface{})
	}
	if nil == pkgNameToGroupName[pkgName] {
		pkgNameToGroupName[pkgName] = make(map[string]interface{})
	}

	if nil != pkgNameToGroupName[pkgName][statsGroupName] {
		panic(fmt.Sprintf("pkgName '%s' with statsGroupName '%s' is already registered",
			pkgName, statsGroupName))
	}

	pkgNameToGroupName[pkgName][statsGroupName] = statsStruct
}

func unRegister(pkgName string, statsGroupName string) {
	pkgName = scrubName(pkgName)
	statsGroupName = scrubName(statsGroupName)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	// silently ignore groups that are not registered

	if nil != pkgNameToGroupName[pkgName] {
		delete(pkgNameToGroupName[pkgName], statsGroupName)

		if 0 == len(pkgNameToGroupName[pkgName]) {
			delete(pkgNameToGroupName, pkgName)
		}
	}
}

func sortedKeys(m map[string]map[string]interface{}) (keys []string) {
	keys = make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return
}

// sprintStats returns the selected group(s) of statistics, ordered by package
// then group. Selecting a specific group that is not registered panics.
//
func sprintStats(stringFmt StatStringFormat, pkgName string, statsGroupName string) (statValues string) {
	var (
		groupNames []string
		pkgNames   []string
	)

	statsNameMapLock.Lock()
	defer statsNameMapLock.Unlock()

	if "*" == pkgName {
		pkgNames = sortedKeys(pkgNameToGroupName)
	} else {
		pkgNames = []string{scrubName(pkgName)}
	}

	for _, pkg := range pkgNames {
		if "*" == statsGroupName {
			groupNames = make([]string, 0, len(pkgNameToGroupName[pkg]))
			for group := range pkgNameToGroupName[pkg] {
				groupNames = append(groupNames, group)
			}
			sort.Strings(groupNames)
		} else {
			groupNames = []string{scrubName(statsGroupName)}
		}

		for _, group := range groupNames {
			statsStruct, ok := pkgNameToGroupName[pkg][group]
			if !ok {
				panic(fmt.Sprintf("bucketstats.sprintStats(): statistics group '%s.%s' is not registered",
					pkg, group))
			}
			statValues += sprintStatsStruct(stringFmt, pkg, group, statsStruct)
		}
	}

	return
}

func sprintStatsStruct(stringFmt StatStringFormat, pkgName string, statsGroupName string, statsStruct interface{}) (statValues string) {
	structAsValue := structValue(statsGroupName, statsStruct)
	structAsType := structAsValue.Type()

	for i := 0; i < structAsType.NumField(); i++ {
		if !isStatType(structAsType.Field(i).Type) {
			continue
		}

		statValues += structAsValue.Field(i).Addr().Interface().(Totaler).Sprint(stringFmt, pkgName, statsGroupName)
	}

	return
}

// statisticName returns the fully qualified name of a statistic.
//
func statisticName(pkgName string, statsGroupName string, fieldName string) string {
	switch {
	case "" == pkgName:
		return statsGroupName + "." + fieldName
	case "" == statsGroupName:
		return pkgName + "." + fieldName
	default:
		return pkgName + "." + statsGroupName + "." + fieldName
	}
}

func unknownFormat(statName string, stringFmt StatStringFormat) string {
	return fmt.Sprintf("statName '%s': Unknown StatStringFormat: '%v'\n", statName, stringFmt)
}

func (this *Total) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	if StatFormatParsable1 != stringFmt {
		return unknownFormat(statName, stringFmt)
	}

	return fmt.Sprintf("%s total:%d\n", statName, this.TotalGet())
}

func (this *Average) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	if StatFormatParsable1 != stringFmt {
		return unknownFormat(statName, stringFmt)
	}

	return fmt.Sprintf("%s total:%d count:%d avg:%d\n", statName, this.TotalGet(), this.CountGet(), this.AverageGet())
}

// Non-empty buckets are listed as "2^<n>:<count>" where 2^<n> is the bucket's
// nominal value (bucket 0 is listed as "0").
//
func (this *BucketLog2Round) sprint(stringFmt StatStringFormat, pkgName string, statsGroupName string) string {
	statName := statisticName(pkgName, statsGroupName, this.Name)

	if StatFormatParsable1 != stringFmt {
		return unknownFormat(statName, stringFmt)
	}

	line := fmt.Sprintf("%s total:%d count:%d avg:%d", statName, this.TotalGet(), this.CountGet(), this.AverageGet())

	for idx := uint(0); idx < this.NBucket; idx++ {
		count := this.BucketGet(idx)
		if 0 == count {
			continue
		}
		if 0 == idx {
			line += fmt.Sprintf(" 0:%d", count)
		} else {
			line += fmt.Sprintf(" 2^%d:%d", idx-1, count)
		}
	}

	return line + "\n"
}

// scrubName replaces characters that are not printable, whitespace, '*' (the
// wildcard), '#' (comments in output) and ':' (the "key:value" delimiter)
// with '_'.
//
func scrubName(name string) string {
	replaceChar := func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return '_'
		case !unicode.IsPrint(r):
			return '_'
		case ('*' == r) || (':' == r) || ('#' == r):
			return '_'
		}
		return r
	}

	return strings.Map(replaceChar, name)
}
