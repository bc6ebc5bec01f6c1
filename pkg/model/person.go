package model

import (
	"fmt"
)

// AgeGroup is the categorical bucket derived from a person's age.
type AgeGroup string

const (
	AgeGroupPreschool AgeGroup = "p" // 0-4
	AgeGroupSchool    AgeGroup = "s" // 5-17
	AgeGroupAdult     AgeGroup = "a" // 18-49
	AgeGroupOlder     AgeGroup = "o" // 50-64
	AgeGroupGolden    AgeGroup = "g" // 65+
)

// AgeGroups lists every bucket in ascending age order.
var AgeGroups = []AgeGroup{AgeGroupPreschool, AgeGroupSchool, AgeGroupAdult, AgeGroupOlder, AgeGroupGolden}

// AgeGroupFor returns the unique bucket containing age.
func AgeGroupFor(age int) (AgeGroup, error) {
	switch {
	case age < 0:
		return "", fmt.Errorf("age %d is negative", age)
	case age <= 4:
		return AgeGroupPreschool, nil
	case age <= 17:
		return AgeGroupSchool, nil
	case age <= 49:
		return AgeGroupAdult, nil
	case age <= 64:
		return AgeGroupOlder, nil
	default:
		return AgeGroupGolden, nil
	}
}

// Valid reports whether g is one of the known buckets.
func (g AgeGroup) Valid() bool {
	for _, known := range AgeGroups {
		if g == known {
			return true
		}
	}
	return false
}

// Person is one individual in the synthetic population. PID is unique
// across the population.
type Person struct {
	PID      int64    `json:"pid" validate:"min=0"`
	HID      int64    `json:"hid" validate:"min=0"`
	Age      int      `json:"age" validate:"min=0"`
	AgeGroup AgeGroup `json:"age_group" validate:"required"`
	Gender   int      `json:"gender" validate:"oneof=1 2"`
	FIPS     string   `json:"fips"`
	HomeLat  float64  `json:"home_lat" validate:"min=-90,max=90"`
	HomeLon  float64  `json:"home_lon" validate:"min=-180,max=180"`
	Admin1   string   `json:"admin1"`
	Admin2   string   `json:"admin2"`
	Admin3   string   `json:"admin3"`
	Admin4   string   `json:"admin4"`
}

// Properties returns the graph property map for p. Keys match the PERSON
// node schema.
func (p Person) Properties() map[string]any {
	return map[string]any{
		"pid":       p.PID,
		"hid":       p.HID,
		"age":       int64(p.Age),
		"age_group": string(p.AgeGroup),
		"gender":    int64(p.Gender),
		"fips":      p.FIPS,
		"home_lat":  p.HomeLat,
		"home_lon":  p.HomeLon,
		"admin1":    p.Admin1,
		"admin2":    p.Admin2,
		"admin3":    p.Admin3,
		"admin4":    p.Admin4,
	}
}

// PersonFromProperties rebuilds a Person from a PERSON node property map.
// Integer properties may arrive as int64 or float64 depending on the store.
func PersonFromProperties(props map[string]any) (Person, error) {
	var p Person
	var err error
	if p.PID, err = int64Prop(props, "pid"); err != nil {
		return p, err
	}
	if p.HID, err = int64Prop(props, "hid"); err != nil {
		return p, err
	}
	age, err := int64Prop(props, "age")
	if err != nil {
		return p, err
	}
	p.Age = int(age)
	gender, err := int64Prop(props, "gender")
	if err != nil {
		return p, err
	}
	p.Gender = int(gender)
	p.AgeGroup = AgeGroup(stringProp(props, "age_group"))
	p.FIPS = stringProp(props, "fips")
	p.HomeLat = floatProp(props, "home_lat")
	p.HomeLon = floatProp(props, "home_lon")
	p.Admin1 = stringProp(props, "admin1")
	p.Admin2 = stringProp(props, "admin2")
	p.Admin3 = stringProp(props, "admin3")
	p.Admin4 = stringProp(props, "admin4")
	return p, nil
}

func int64Prop(props map[string]any, key string) (int64, error) {
	switch v := props[key].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case nil:
		return 0, fmt.Errorf("property %q missing", key)
	default:
		return 0, fmt.Errorf("property %q has type %T", key, v)
	}
}

func stringProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}
