// Package eds loads CiA 306 Electronic Data Sheet (.eds) files into an
// [od.ObjectDictionary]. It is a convenience front-end only: nothing in
// pkg/od, pkg/sdo, pkg/pdo, pkg/nmt or pkg/node imports this package, so a
// node that builds its dictionary in code never pulls in gopkg.in/ini.v1.
package eds

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/samsamfire/conode/pkg/od"
)

var (
	matchIndex    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubIndex = regexp.MustCompile(`^([0-9A-Fa-f]{4})[sS]ub([0-9A-Fa-f]+)$`)
)

const (
	objectTypeVar    = 7
	objectTypeArray  = 8
	objectTypeRecord = 9
)

// Parse reads an EDS file (a path, []byte, or io.Reader — anything
// gopkg.in/ini.v1 accepts) into a fresh ObjectDictionary.
func Parse(source any) (*od.ObjectDictionary, error) {
	file, err := ini.Load(source)
	if err != nil {
		return nil, fmt.Errorf("eds: %w", err)
	}

	dict := od.NewObjectDictionary(nil)

	// First pass: top-level index sections create the Entry (Variable,
	// Record or Array). Sub-index sections are only valid once the
	// parent Entry exists, so they run in a second pass.
	for _, section := range file.Sections() {
		name := section.Name()
		if !matchIndex.MatchString(name) {
			continue
		}
		idx, err := strconv.ParseUint(name, 16, 16)
		if err != nil {
			return nil, err
		}
		index := uint16(idx)
		objectType := section.Key("ObjectType").MustInt(objectTypeVar)
		parameterName := section.Key("ParameterName").String()

		switch objectType {
		case objectTypeVar:
			v, err := variableFromSection(section, index, 0, parameterName)
			if err != nil {
				return nil, fmt.Errorf("eds: index %04X: %w", index, err)
			}
			dict.AddVariable(v)
		case objectTypeRecord, objectTypeArray:
			dict.AddRecord(index, parameterName, func(*od.Entry) {})
		default:
			return nil, fmt.Errorf("eds: index %04X: unsupported ObjectType %d", index, objectType)
		}
	}

	// Sub-index sections are gathered per parent index and sorted so that
	// AddSub (which appends positionally) sees them in ascending subindex
	// order regardless of how they appear in the file.
	type subSection struct {
		sub     uint8
		section *ini.Section
	}
	byIndex := map[uint16][]subSection{}
	for _, section := range file.Sections() {
		m := matchSubIndex.FindStringSubmatch(section.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.ParseUint(m[1], 16, 16)
		if err != nil {
			return nil, err
		}
		sub, err := strconv.ParseUint(m[2], 16, 8)
		if err != nil {
			return nil, err
		}
		byIndex[uint16(idx)] = append(byIndex[uint16(idx)], subSection{sub: uint8(sub), section: section})
	}

	for index, subs := range byIndex {
		entry := dict.Index(index)
		if entry == nil {
			return nil, fmt.Errorf("eds: sub-entries reference unknown index %04X", index)
		}
		sort.Slice(subs, func(i, j int) bool { return subs[i].sub < subs[j].sub })
		for _, s := range subs {
			name := s.section.Key("ParameterName").String()
			if s.sub == 0 {
				n := s.section.Key("DefaultValue").MustUint(0)
				entry.SetDefaultCount(uint8(n))
				continue
			}
			v, err := variableFromSection(s.section, index, s.sub, name)
			if err != nil {
				return nil, fmt.Errorf("eds: index %04X sub %d: %w", index, s.sub, err)
			}
			if err := entry.AddSub(v); err != nil {
				return nil, fmt.Errorf("eds: index %04X sub %d: %w", index, s.sub, err)
			}
		}
	}

	return dict, nil
}

func variableFromSection(section *ini.Section, index uint16, subIndex uint8, name string) (*od.Variable, error) {
	dataTypeCode := section.Key("DataType").MustUint64(0)
	dataType := od.DataType(dataTypeCode)
	if dataType == 0 {
		dataType = od.UNSIGNED32
	}

	access, err := parseAccessType(section.Key("AccessType").MustString("ro"))
	if err != nil {
		return nil, err
	}

	v := od.NewVariable(index, subIndex, name, dataType, 0, access)

	if pdoMapping, _ := section.Key("PDOMapping").Bool(); pdoMapping {
		v.WithPDOMappable()
	}

	if low, err := section.Key("LowLimit").Int64(); err == nil {
		high, err := section.Key("HighLimit").Int64()
		if err == nil {
			v.WithRange(low, high)
		}
	}

	if raw := section.Key("DefaultValue").String(); raw != "" {
		encoded, err := encodeDefaultValue(v, raw)
		if err != nil {
			return nil, fmt.Errorf("DefaultValue: %w", err)
		}
		v.WithDefault(encoded)
	}

	return v, nil
}

func parseAccessType(s string) (od.Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ro", "const":
		return od.AccessRO, nil
	case "wo":
		return od.AccessWO, nil
	case "rw", "rww", "rwr":
		return od.AccessRW, nil
	default:
		return 0, fmt.Errorf("unsupported AccessType %q", s)
	}
}

// encodeDefaultValue interprets an EDS DefaultValue string (decimal,
// "0x"-prefixed hex, or a bare string for VISIBLE_STRING) the way CiA 306
// expects and encodes it to the variable's wire representation.
func encodeDefaultValue(v *od.Variable, raw string) ([]byte, error) {
	switch v.DataType {
	case od.VISIBLE_STRING, od.UNICODE_STRING:
		if v.ByteLength() == 0 {
			v.BitLength = uint32(len(raw)) * 8
		}
		return od.Encode(v, raw, false)
	case od.OCTET_STRING, od.DOMAIN:
		return []byte(raw), nil
	}

	trimmed := strings.TrimSpace(raw)
	base := 10
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		base = 16
		trimmed = trimmed[2:]
	}

	if v.DataType == od.REAL32 || v.DataType == od.REAL64 {
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, err
		}
		return od.Encode(v, f, false)
	}
	if v.DataType == od.BOOLEAN {
		n, err := strconv.ParseInt(trimmed, base, 64)
		if err != nil {
			return nil, err
		}
		return od.Encode(v, n != 0, false)
	}

	signed := strings.HasPrefix(trimmed, "-")
	if signed {
		n, err := strconv.ParseInt(trimmed, base, 64)
		if err != nil {
			return nil, err
		}
		return od.Encode(v, n, false)
	}
	n, err := strconv.ParseUint(trimmed, base, 64)
	if err != nil {
		return nil, err
	}
	return od.Encode(v, n, false)
}
