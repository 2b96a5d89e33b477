package sim

import (
	"strconv"
	"strings"
)

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// NameMustBeValid panics if the name does not follow the naming convention.
// A name is a series of dot-separated elements. Each element must be
// non-empty, start with a capital letter, and must not contain "_", "-", or
// quotes. Elements in a series use square-bracket notation, e.g.
// "Bus.Master[2]".
func NameMustBeValid(name string) {
	defer func() {
		if r := recover(); r != nil {
			panic("Name " + name + " is not valid: " + r.(string))
		}
	}()

	for _, token := range strings.Split(name, ".") {
		bracketMustMatch(token)
		tokenMustBeValid(strings.Split(token, "[")[0])
	}
}

func bracketMustMatch(token string) {
	openBracketCount := 0

	for _, c := range token {
		switch c {
		case '[':
			openBracketCount++
		case ']':
			openBracketCount--
			if openBracketCount < 0 {
				panic("Name bracket must match")
			}
		}
	}

	if openBracketCount != 0 {
		panic("Name bracket must match")
	}
}

func tokenMustBeValid(elemName string) {
	if elemName == "" {
		panic("Name element must not be empty")
	}

	for _, c := range []string{"_", "\"", "'", "-"} {
		if strings.Contains(elemName, c) {
			panic("Name element must not contain " + c)
		}
	}

	if elemName[0] < 'A' || elemName[0] > 'Z' {
		panic("Name element must start with a capital letter")
	}
}

// BuildName builds a name from a parent name and an element name.
func BuildName(parentName, elementName string) string {
	if parentName == "" {
		return elementName
	}

	return parentName + "." + elementName
}

// BuildNameWithIndex builds a name from a parent name, an element name and an
// index.
func BuildNameWithIndex(parentName, elementName string, index int) string {
	return BuildName(parentName, elementName+"["+strconv.Itoa(index)+"]")
}
