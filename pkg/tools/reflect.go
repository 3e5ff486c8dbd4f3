/*
 * Copyright 2024 caiflower Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package tools

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/modern-go/reflect2"
)

type TagFunc func(reflect.StructField, reflect.Value) error

var durationType = reflect.TypeOf(time.Duration(0))

// DoTagFunc applies every fn to each field of the struct v points to.
func DoTagFunc(v interface{}, fn ...TagFunc) error {
	if reflect2.IsNil(v) {
		return nil
	}

	vType := reflect2.TypeOf(v).Type1()
	if vType.Kind() != reflect.Ptr || vType.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("DoTagFunc: %s is not a pointer to struct", vType)
	}

	indirect := reflect.Indirect(reflect.ValueOf(v))
	for i := 0; i < indirect.NumField(); i++ {
		for _, f := range fn {
			if err := f(vType.Elem().Field(i), indirect.Field(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// SetDefaultValueIfNil sets the `default` tag value into a zero field.
// Nested structs and non-nil struct pointers are walked. Bools are skipped
// since false cannot be told apart from unset.
func SetDefaultValueIfNil(structField reflect.StructField, vValue reflect.Value) error {
	if !vValue.CanSet() {
		return nil
	}
	def, hasDefault := structField.Tag.Lookup("default")

	switch {
	case vValue.Kind() == reflect.Struct:
		for i := 0; i < vValue.NumField(); i++ {
			if err := SetDefaultValueIfNil(vValue.Type().Field(i), vValue.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case vValue.Kind() == reflect.Ptr:
		if vValue.IsNil() || vValue.Elem().Kind() != reflect.Struct {
			return nil
		}
		return SetDefaultValueIfNil(reflect.StructField{Type: vValue.Elem().Type()}, vValue.Elem())
	case !hasDefault || !vValue.IsZero():
		return nil
	}

	if vValue.Type() == durationType {
		d, err := time.ParseDuration(def)
		if err != nil {
			return fmt.Errorf("field %s: %w", structField.Name, err)
		}
		vValue.SetInt(int64(d))
		return nil
	}

	switch vValue.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(def, 10, 64)
		if err != nil {
			return fmt.Errorf("field %s: %w", structField.Name, err)
		}
		vValue.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(def, 10, 64)
		if err != nil {
			return fmt.Errorf("field %s: %w", structField.Name, err)
		}
		vValue.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(def, 64)
		if err != nil {
			return fmt.Errorf("field %s: %w", structField.Name, err)
		}
		vValue.SetFloat(f)
	case reflect.String:
		vValue.SetString(def)
	}
	return nil
}
