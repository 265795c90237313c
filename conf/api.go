// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package conf provides the .INI-style configuration map shared by every
// pagecache package that reads settings in its Up() callback.
//
// A configuration file looks like:
//
//   [<section_name_1>]
//   <option_name_0> :
//   <option_name_1> = <value_1>
//   <option_name_2> : <value_2> <value_3>,<value_4>
//
//   # A comment on its own line starting with '#'
//   ; A comment on its own line starting with ';'
//
//   .include <included .INI/.conf path>
//
// Overrides (e.g. from extra command-line arguments) take the form:
//
//   <section_name>.<option_name> = <value_1>, <value_2>
//
package conf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ConfMap is accessed via confMap[section_name][option_name][option_value_index] or via the methods below
//
type ConfMapOption []string
type ConfMapSection map[string]ConfMapOption
type ConfMap map[string]ConfMapSection

// MakeConfMap returns an newly created empty ConfMap.
//
func MakeConfMap() (confMap ConfMap) {
	confMap = make(ConfMap)
	return
}

// MakeConfMapFromFile returns a newly created ConfMap loaded with the contents of confFilePath.
//
func MakeConfMapFromFile(confFilePath string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()
	err = confMap.UpdateFromFile(confFilePath)
	return
}

// MakeConfMapFromStrings returns a newly created ConfMap loaded with each override in confStrings.
//
func MakeConfMapFromStrings(confStrings []string) (confMap ConfMap, err error) {
	confMap = MakeConfMap()

	err = confMap.UpdateFromStrings(confStrings)
	if nil != err {
		err = fmt.Errorf("Error building confMap from conf strings: %v", err)
		return
	}

	err = nil
	return
}

const (
	tokenPattern      = "[0-9A-Za-z_\\*\\-/:\\.\\[\\]]+\\$?"
	assignmentPattern = "[ \t]*[=:][ \t]*"
	separatorPattern  = "[ \t]+|[ \t]*,[ \t]*"
	valuesPattern     = "(" + tokenPattern + "((" + separatorPattern + ")" + tokenPattern + ")*)?"
)

var (
	overrideRE      = regexp.MustCompile("\\A(" + tokenPattern + ")\\.(" + tokenPattern + ")" + assignmentPattern + valuesPattern + "\\z")
	optionLineRE    = regexp.MustCompile("\\A" + tokenPattern + assignmentPattern + valuesPattern + "\\z")
	sectionLineRE   = regexp.MustCompile("\\A\\[([0-9A-Za-z_\\-/:\\.]+)\\]\\z")
	includeLineRE   = regexp.MustCompile("\\A\\.include[ \t]+(" + tokenPattern + ")\\z")
	assignmentRE    = regexp.MustCompile(assignmentPattern)
	valueSeparateRE = regexp.MustCompile(separatorPattern)
)

func (confMap ConfMap) setOption(sectionName string, optionName string, optionValues string) {
	var (
		ok      bool
		section ConfMapSection
		values  []string
	)

	if "" == optionValues {
		values = []string{}
	} else {
		values = valueSeparateRE.Split(optionValues, -1)
	}

	section, ok = confMap[sectionName]
	if !ok {
		section = make(ConfMapSection)
		confMap[sectionName] = section
	}

	section[optionName] = values
}

// UpdateFromString applies a single "<section>.<option> = <values>" override.
//
func (confMap ConfMap) UpdateFromString(confString string) (err error) {
	var (
		nameAndPayload []string
		optionAndValue []string
		trimmed        string
	)

	trimmed = strings.Trim(confString, " \t")

	if 0 == len(trimmed) {
		err = fmt.Errorf("trimmed confString: \"%v\" was found to be empty", confString)
		return
	}

	if !overrideRE.MatchString(trimmed) {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	nameAndPayload = strings.SplitN(trimmed, ".", 2)
	optionAndValue = assignmentRE.Split(nameAndPayload[1], 2)

	if 2 != len(optionAndValue) {
		err = fmt.Errorf("malformed confString: \"%v\"", confString)
		return
	}

	confMap.setOption(nameAndPayload[0], optionAndValue[0], optionAndValue[1])

	err = nil
	return
}

// UpdateFromStrings applies each override in confStrings in order.
//
func (confMap ConfMap) UpdateFromStrings(confStrings []string) (err error) {
	for _, confString := range confStrings {
		err = confMap.UpdateFromString(confString)
		if nil != err {
			return
		}
	}

	err = nil
	return
}

// UpdateFromFile modifies a pre-existing ConfMap based on the contents of confFilePath
// ("-" reads from os.Stdin). Relative .include paths are resolved against the
// directory of the including file.
//
func (confMap ConfMap) UpdateFromFile(confFilePath string) (err error) {
	var (
		confFileBytes []byte
	)

	if "-" == confFilePath {
		confFileBytes, err = ioutil.ReadAll(os.Stdin)
	} else {
		confFileBytes, err = ioutil.ReadFile(confFilePath)
	}
	if nil != err {
		return
	}

	if (0 < len(confFileBytes)) && ('\n' != confFileBytes[len(confFileBytes)-1]) {
		err = fmt.Errorf("file %v did not end in a '\\n' character", confFilePath)
		return
	}

	err = confMap.update(confFilePath, bytes.NewReader(confFileBytes))

	return
}

func (confMap ConfMap) update(confFilePath string, confReader io.Reader) (err error) {
	var (
		absConfFilePath    string
		currentSectionName string
		includeFilePath    string
		line               string
		lineNumber         int
		optionAndValues    []string
		scanner            *bufio.Scanner
		submatches         []string
	)

	scanner = bufio.NewScanner(confReader)

	for scanner.Scan() {
		lineNumber++

		line = scanner.Text()
		line = strings.SplitN(line, ";", 2)[0]
		line = strings.SplitN(line, "#", 2)[0]
		line = strings.Trim(line, " \t")

		if "" == line {
			continue
		}

		submatches = includeLineRE.FindStringSubmatch(line)
		if nil != submatches {
			includeFilePath = submatches[1]

			if !filepath.IsAbs(includeFilePath) {
				absConfFilePath, err = filepath.Abs(confFilePath)
				if nil != err {
					return
				}

				includeFilePath = filepath.Join(filepath.Dir(absConfFilePath), includeFilePath)
			}

			err = confMap.UpdateFromFile(includeFilePath)
			if nil != err {
				return
			}

			currentSectionName = ""

			continue
		}

		submatches = sectionLineRE.FindStringSubmatch(line)
		if nil != submatches {
			currentSectionName = submatches[1]
			continue
		}

		if "" == currentSectionName {
			err = fmt.Errorf("file %v line %v found outside of any Section", confFilePath, lineNumber)
			return
		}

		if !optionLineRE.MatchString(line) {
			err = fmt.Errorf("file %v malformed line %v '%v'", confFilePath, lineNumber, line)
			return
		}

		optionAndValues = assignmentRE.Split(line, 2)

		confMap.setOption(currentSectionName, optionAndValues[0], optionAndValues[1])
	}

	err = scanner.Err()

	return
}

// VerifyOptionIsMissing returns an error if [sectionName]optionName exists.
//
func (confMap ConfMap) VerifyOptionIsMissing(sectionName string, optionName string) (err error) {
	section, ok := confMap[sectionName]
	if ok {
		_, ok = section[optionName]
		if ok {
			err = fmt.Errorf("[%v]%v exists", sectionName, optionName)
			return
		}
	}

	err = nil
	return
}

// VerifyOptionValueIsEmpty returns an error if [sectionName]optionName is missing or has a value.
//
func (confMap ConfMap) VerifyOptionValueIsEmpty(sectionName string, optionName string) (err error) {
	optionValue, err := confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	if 0 != len(optionValue) {
		err = fmt.Errorf("[%v]%v must have no value", sectionName, optionName)
		return
	}

	err = nil
	return
}

// FetchOptionValueStringSlice returns [sectionName]optionName's values.
//
func (confMap ConfMap) FetchOptionValueStringSlice(sectionName string, optionName string) (optionValue []string, err error) {
	optionValue = []string{}

	section, ok := confMap[sectionName]
	if !ok {
		err = fmt.Errorf("[%v] missing", sectionName)
		return
	}

	option, ok := section[optionName]
	if !ok {
		err = fmt.Errorf("[%v]%v missing", sectionName, optionName)
		return
	}

	optionValue = option

	err = nil
	return
}

// FetchOptionValueString returns [sectionName]optionName's single value.
//
func (confMap ConfMap) FetchOptionValueString(sectionName string, optionName string) (optionValue string, err error) {
	optionValueSlice, err := confMap.FetchOptionValueStringSlice(sectionName, optionName)
	if nil != err {
		return
	}

	if 1 != len(optionValueSlice) {
		err = fmt.Errorf("[%v]%v must be single-valued", sectionName, optionName)
		return
	}

	optionValue = optionValueSlice[0]

	err = nil
	return
}

// FetchOptionValueBool interprets [sectionName]optionName as one of true/false/yes/no/on/off.
//
func (confMap ConfMap) FetchOptionValueBool(sectionName string, optionName string) (optionValue bool, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	switch strings.ToLower(optionValueString) {
	case "yes", "on", "true":
		optionValue = true
	case "no", "off", "false":
		optionValue = false
	default:
		err = fmt.Errorf("Couldn't interpret %q as boolean (expected one of 'true'/'false'/'yes'/'no'/'on'/'off')", optionValueString)
		return
	}

	err = nil
	return
}

func (confMap ConfMap) fetchOptionValueUint(sectionName string, optionName string, bitSize int) (optionValue uint64, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = strconv.ParseUint(optionValueString, 10, bitSize)
	if nil != err {
		err = fmt.Errorf("[%v]%v strconv.ParseUint() error: %v", sectionName, optionName, err)
		return
	}

	err = nil
	return
}

// FetchOptionValueUint16 returns [sectionName]optionName's single value as a uint16.
//
func (confMap ConfMap) FetchOptionValueUint16(sectionName string, optionName string) (optionValue uint16, err error) {
	optionValueUint64, err := confMap.fetchOptionValueUint(sectionName, optionName, 16)
	optionValue = uint16(optionValueUint64)
	return
}

// FetchOptionValueUint32 returns [sectionName]optionName's single value as a uint32.
//
func (confMap ConfMap) FetchOptionValueUint32(sectionName string, optionName string) (optionValue uint32, err error) {
	optionValueUint64, err := confMap.fetchOptionValueUint(sectionName, optionName, 32)
	optionValue = uint32(optionValueUint64)
	return
}

// FetchOptionValueDuration returns [sectionName]optionName's single value parsed by time.ParseDuration.
//
func (confMap ConfMap) FetchOptionValueDuration(sectionName string, optionName string) (optionValue time.Duration, err error) {
	optionValueString, err := confMap.FetchOptionValueString(sectionName, optionName)
	if nil != err {
		return
	}

	optionValue, err = time.ParseDuration(optionValueString)
	if nil != err {
		return
	}

	if 0 > optionValue {
		err = fmt.Errorf("[%v]%v must be a non-negative duration", sectionName, optionName)
		return
	}

	err = nil
	return
}

// Dump renders confMap in .INI form with sections and options sorted.
//
func (confMap ConfMap) Dump() (confMapString string) {
	var (
		buf          bytes.Buffer
		optionName   string
		optionNames  []string
		sectionName  string
		sectionNames []string
	)

	sectionNames = make([]string, 0, len(confMap))
	for sectionName = range confMap {
		sectionNames = append(sectionNames, sectionName)
	}
	sort.Strings(sectionNames)

	for _, sectionName = range sectionNames {
		if 0 < buf.Len() {
			buf.WriteString("\n")
		}
		buf.WriteString(fmt.Sprintf("[%s]\n", sectionName))

		optionNames = make([]string, 0, len(confMap[sectionName]))
		for optionName = range confMap[sectionName] {
			optionNames = append(optionNames, optionName)
		}
		sort.Strings(optionNames)

		for _, optionName = range optionNames {
			buf.WriteString(fmt.Sprintf("%s: %s\n", optionName, strings.Join(confMap[sectionName][optionName], ", ")))
		}
	}

	confMapString = buf.String()

	return
}
